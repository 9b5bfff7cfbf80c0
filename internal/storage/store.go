// Package storage implements the repository layer the controller reads
// and writes through: typed per-entity CRUD over the shared database pool,
// no ORM, raw SQL plus sqlx scanning, portable across SQLite and Postgres
// via the dialect package.
package storage

import (
	"context"
	"fmt"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
)

// Store bundles every repository over a single connection pool. The
// controller is handed one Store and reaches into its typed fields rather
// than holding a repository-per-package reference.
type Store struct {
	pool   *db.Pool
	driver string

	Agents            *AgentRepository
	Prompts           *PromptRepository
	Messages          *MessageRepository
	Commits           *CommitRepository
	Automations       *AutomationRepository
	AutomationEvents  *AutomationEventRepository
	ContextEvents     *ContextEventRepository
	Reservations      *ReservationRepository
	CustomMachines    *CustomMachineRepository
	AccessGrants      *AccessGrantRepository
	Credentials       *CredentialRepository
}

// New builds a Store over an already-opened pool and initializes schema.
// driver is dialect.SQLite3 or dialect.PGX, matching how the pool's
// *sqlx.DB connections were opened.
func New(pool *db.Pool, driver string) (*Store, error) {
	s := &Store{pool: pool, driver: driver}

	s.Agents = &AgentRepository{pool: pool, driver: driver}
	s.Prompts = &PromptRepository{pool: pool, driver: driver}
	s.Messages = &MessageRepository{pool: pool, driver: driver}
	s.Commits = &CommitRepository{pool: pool, driver: driver}
	s.Automations = &AutomationRepository{pool: pool, driver: driver}
	s.AutomationEvents = &AutomationEventRepository{pool: pool, driver: driver}
	s.ContextEvents = &ContextEventRepository{pool: pool, driver: driver}
	s.Reservations = &ReservationRepository{pool: pool, driver: driver}
	s.CustomMachines = &CustomMachineRepository{pool: pool, driver: driver}
	s.AccessGrants = &AccessGrantRepository{pool: pool, driver: driver}
	s.Credentials = &CredentialRepository{pool: pool, driver: driver}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) initSchema() error {
	idType := "TEXT PRIMARY KEY"
	boolType := "INTEGER"
	if dialect.IsPostgres(s.driver) {
		boolType = "BOOLEAN"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agents (
			id %s,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			repo_full_name TEXT NOT NULL DEFAULT '',
			branch_name TEXT NOT NULL,
			task_summary TEXT NOT NULL DEFAULT '',
			machine_id TEXT NOT NULL DEFAULT '',
			machine_type TEXT NOT NULL,
			machine_address TEXT NOT NULL DEFAULT '',
			machine_shared_key TEXT NOT NULL DEFAULT '',
			service_preview_token TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			is_trashed %s NOT NULL DEFAULT 0,
			provisioned_at TIMESTAMP,
			lifetime_units INTEGER NOT NULL DEFAULT 0,
			current_task_id TEXT NOT NULL DEFAULT '',
			pending_commit_triggered %s NOT NULL DEFAULT 0,
			pending_push_pr_triggered %s NOT NULL DEFAULT 0,
			last_commit_sha TEXT NOT NULL DEFAULT '',
			last_commit_url TEXT NOT NULL DEFAULT '',
			last_commit_at TIMESTAMP,
			git_history_last_pushed_commit_sha TEXT NOT NULL DEFAULT '',
			start_commit_sha TEXT NOT NULL DEFAULT '',
			pr_number INTEGER NOT NULL DEFAULT 0,
			pr_state TEXT,
			pr_base_branch TEXT NOT NULL DEFAULT '',
			pr_last_synced_at TIMESTAMP,
			in_slop_mode_until TIMESTAMP,
			slop_mode_custom_prompt TEXT NOT NULL DEFAULT '',
			in_ralph_mode %s NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, idType, boolType, boolType, boolType, boolType),

		`CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(state)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_prompts (
			id %s,
			agent_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, idType),
		`CREATE INDEX IF NOT EXISTS idx_prompts_agent ON agent_prompts(agent_id, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_messages (
			id %s,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			tools TEXT NOT NULL DEFAULT '',
			is_streaming %s NOT NULL DEFAULT 0,
			source_uuid TEXT NOT NULL DEFAULT ''
		)`, idType, boolType),
		`CREATE INDEX IF NOT EXISTS idx_messages_agent ON agent_messages(agent_id, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_source_uuid ON agent_messages(agent_id, source_uuid) WHERE source_uuid <> ''`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_commits (
			id %s,
			agent_id TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			branch_name TEXT NOT NULL DEFAULT '',
			commit_message TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			files_changed INTEGER NOT NULL DEFAULT 0,
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			pushed %s NOT NULL DEFAULT 0,
			commit_patch TEXT NOT NULL DEFAULT '',
			is_deleted %s NOT NULL DEFAULT 0,
			authored_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, idType, boolType, boolType),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_commits_agent_sha ON agent_commits(agent_id, commit_sha)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS automations (
			id %s,
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_glob TEXT NOT NULL DEFAULT '',
			trigger_regex TEXT NOT NULL DEFAULT '',
			trigger_automation_id TEXT NOT NULL DEFAULT '',
			script_language TEXT NOT NULL,
			script_content TEXT NOT NULL,
			blocking %s NOT NULL DEFAULT 0,
			feed_output %s NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, idType, boolType, boolType),
		`CREATE INDEX IF NOT EXISTS idx_automations_project_trigger ON automations(project_id, trigger_type)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS automation_events (
			id %s,
			automation_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			exit_code INTEGER,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`, idType),
		`CREATE INDEX IF NOT EXISTS idx_automation_events_automation ON automation_events(automation_id, status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS context_events (
			id %s,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			used_percent REAL NOT NULL DEFAULT 0,
			remaining_percent REAL NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, idType),
		`CREATE INDEX IF NOT EXISTS idx_context_events_agent ON context_events(agent_id, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS machine_reservations (
			id %s,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			machine_id TEXT NOT NULL DEFAULT '',
			requested_at TIMESTAMP NOT NULL,
			assigned_at TIMESTAMP
		)`, idType),
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON machine_reservations(status, requested_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS custom_machines (
			id %s,
			user_id TEXT NOT NULL,
			address TEXT NOT NULL,
			shared_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`, idType),
		`CREATE INDEX IF NOT EXISTS idx_custom_machines_user ON custom_machines(user_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS access_grants (
			id %s,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			granted_at TIMESTAMP NOT NULL
		)`, idType),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_access_grants_agent_user ON access_grants(agent_id, user_id)`,

		`CREATE TABLE IF NOT EXISTS user_credentials (
			user_id TEXT PRIMARY KEY,
			auth_method TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			oauth_access_token TEXT NOT NULL DEFAULT '',
			oauth_refresh_token TEXT NOT NULL DEFAULT '',
			oauth_expires_at TIMESTAMP,
			api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			git_host_token TEXT NOT NULL DEFAULT '',
			git_host_token_expires_at TIMESTAMP,
			git_host_refreshed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Writer().Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}
