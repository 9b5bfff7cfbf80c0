package machinepool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	sprites "github.com/superfly/sprites-go"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/workerrpc"
)

const (
	spriteNamePrefix    = "agentcore-"
	agentDaemonPort     = 8765
	spriteCreateTimeout = 120 * time.Second
	spriteDestroyTimeout = 30 * time.Second
)

// SpritesProvisioner acquires and releases ephemeral remote machines
// backed by sprites.dev. Each sprite is a pre-warmed, reservable remote
// machine running the worker agent daemon; acquiring one is a create
// call plus a port-forward, not a full VM boot.
type SpritesProvisioner struct {
	client *sprites.Client
	rpc    *workerrpc.Client
	log    *logger.Logger
}

// NewSpritesProvisioner builds a provisioner against the sprites.dev API
// using the given account token.
func NewSpritesProvisioner(apiToken string, rpc *workerrpc.Client, log *logger.Logger) *SpritesProvisioner {
	return &SpritesProvisioner{
		client: sprites.New(apiToken, sprites.WithDisableControl()),
		rpc:    rpc,
		log:    log.WithFields(zap.String("component", "sprites-provisioner")),
	}
}

// Acquire creates a new sprite, forwards a local port to the agent
// daemon's listening port, and waits for it to report healthy before
// handing the machine to the pool.
func (p *SpritesProvisioner) Acquire(ctx context.Context) (*ProvisionedMachine, error) {
	name, err := randomSpriteName()
	if err != nil {
		return nil, fmt.Errorf("sprites: generate name: %w", err)
	}

	createCtx, cancel := context.WithTimeout(ctx, spriteCreateTimeout)
	defer cancel()

	sprite, err := p.client.CreateSprite(createCtx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("sprites: create sprite %s: %w", name, err)
	}

	localPort, err := getFreePort()
	if err != nil {
		_ = sprite.Destroy()
		return nil, fmt.Errorf("sprites: find free port: %w", err)
	}

	if _, err := sprite.ProxyPort(ctx, localPort, agentDaemonPort); err != nil {
		_ = sprite.Destroy()
		return nil, fmt.Errorf("sprites: forward port for %s: %w", name, err)
	}

	sharedKey, err := randomSharedKey()
	if err != nil {
		_ = sprite.Destroy()
		return nil, fmt.Errorf("sprites: generate shared key: %w", err)
	}

	machine := &ProvisionedMachine{
		MachineID: name,
		Address:   fmt.Sprintf("http://127.0.0.1:%d", localPort),
		SharedKey: sharedKey,
	}

	target := workerrpc.AgentTarget{MachineAddress: machine.Address, SharedKey: machine.SharedKey}
	if err := p.rpc.ProbeHealth(ctx, target, 5*time.Second); err != nil {
		_ = sprite.Destroy()
		return nil, fmt.Errorf("sprites: health probe for %s: %w", name, err)
	}

	p.log.Info("sprite acquired", zap.String("sprite_name", name), zap.Int("local_port", localPort))
	return machine, nil
}

// Release destroys the sprite backing a machine.
func (p *SpritesProvisioner) Release(ctx context.Context, machineID string) error {
	_, cancel := context.WithTimeout(ctx, spriteDestroyTimeout)
	defer cancel()

	sprite := p.client.Sprite(machineID)
	if err := sprite.Destroy(); err != nil {
		return fmt.Errorf("sprites: destroy %s: %w", machineID, err)
	}
	p.log.Info("sprite released", zap.String("sprite_name", machineID))
	return nil
}

func randomSpriteName() (string, error) {
	suffix, err := randomHex(6)
	if err != nil {
		return "", err
	}
	return spriteNamePrefix + suffix, nil
}

func randomSharedKey() (string, error) {
	return randomHex(32)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}
