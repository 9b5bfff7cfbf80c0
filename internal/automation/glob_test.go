package automation

import "testing"

func TestCompileGlobMatch(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "pkg/main.go", false},
		{"**/*.go", "pkg/util/helper.go", true},
		{"**/*.go", "main.go", true},
		{"src/?.txt", "src/a.txt", true},
		{"src/?.txt", "src/ab.txt", false},
		{"internal/[ab]*.go", "internal/agent.go", true},
		{"internal/[ab]*.go", "internal/controller.go", false},
		{"*.go", "main.py", false},
	}

	for _, tc := range cases {
		re, err := compileGlob(tc.pattern)
		if err != nil {
			t.Fatalf("compileGlob(%q): %v", tc.pattern, err)
		}
		if got := re.MatchString(tc.path); got != tc.want {
			t.Errorf("compileGlob(%q).MatchString(%q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestCompileGlobAnchored(t *testing.T) {
	re, err := compileGlob("*.go")
	if err != nil {
		t.Fatalf("compileGlob: %v", err)
	}
	if re.MatchString("main.go.bak") {
		t.Error("expected pattern to be anchored at the end")
	}
	if re.MatchString("not-main.go-really") {
		t.Error("expected pattern to be anchored at the start")
	}
}

func TestCompileGlobLiteralDot(t *testing.T) {
	re, err := compileGlob("config.yaml")
	if err != nil {
		t.Fatalf("compileGlob: %v", err)
	}
	if re.MatchString("configXyaml") {
		t.Error("expected literal dot to not match an arbitrary character")
	}
	if !re.MatchString("config.yaml") {
		t.Error("expected exact literal match")
	}
}
