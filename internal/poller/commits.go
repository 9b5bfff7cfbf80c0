package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

const gitHistoryPollInterval = 10 * time.Second

// pollGitHistory is fire-and-forget: the caller launches it on its own
// goroutine with its own timeout so a slow git operation never delays
// the rest of the poll cycle.
func (p *Poller) pollGitHistory(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, st *agentState) {
	if time.Since(st.lastGitHistoryPoll) < gitHistoryPollInterval {
		return
	}
	st.lastGitHistoryPoll = time.Now()

	resp, err := p.rpc.GitHistory(ctx, target, p.rpcCfg.CommitPushTimeout(), agent.GitHistoryLastPushedCommitSha)
	if err != nil {
		p.log.Debug("git history poll failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}

	seenShas := make([]string, 0, len(resp.Commits))
	for _, c := range resp.Commits {
		seenShas = append(seenShas, c.CommitSha)
		if err := p.ingestCommit(ctx, agent, c); err != nil {
			p.log.Error("ingest commit failed",
				zap.String("agent_id", agent.ID), zap.String("commit_sha", c.CommitSha), zap.Error(err))
		}
	}

	if resp.FullFetch {
		if err := p.commits.MarkDeletedUnpushedBefore(ctx, agent.ID, seenShas); err != nil {
			p.log.Error("mark deleted unpushed commits failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}
}

// ingestCommit upserts one commit, assigning taskId by chronology and
// detecting amended duplicates by matching author timestamps.
func (p *Poller) ingestCommit(ctx context.Context, agent *v1.Agent, c workerrpc.GitCommit) error {
	authoredAt := parseWorkerTime(c.AuthoredAt)

	taskID, err := p.commits.LatestPromptIDAtOrBefore(ctx, agent.ID, authoredAt)
	if err != nil {
		taskID = ""
	}

	existing, err := p.commits.GetBySha(ctx, agent.ID, c.CommitSha)
	if err == nil && existing != nil {
		existing.BranchName = c.BranchName
		existing.CommitMessage = c.CommitMessage
		existing.TaskID = taskID
		existing.FilesChanged = c.FilesChanged
		existing.Additions = c.Additions
		existing.Deletions = c.Deletions
		existing.Pushed = c.Pushed
		return p.commits.Upsert(ctx, existing)
	}

	// Not found by sha: check whether this is an amended replacement for
	// a not-yet-pushed commit with the same author timestamp.
	if prior, priorErr := p.commits.GetByAuthoredAt(ctx, agent.ID, authoredAt); priorErr == nil && prior != nil && prior.CommitSha != c.CommitSha {
		replacement := &v1.Commit{
			ID:            uuid.New().String(),
			AgentID:       agent.ID,
			CommitSha:     c.CommitSha,
			BranchName:    c.BranchName,
			CommitMessage: c.CommitMessage,
			TaskID:        taskID,
			FilesChanged:  c.FilesChanged,
			Additions:     c.Additions,
			Deletions:     c.Deletions,
			Pushed:        c.Pushed,
			AuthoredAt:    authoredAt,
		}
		return p.commits.ReplaceAmended(ctx, prior.ID, replacement)
	}

	commit := &v1.Commit{
		ID:            uuid.New().String(),
		AgentID:       agent.ID,
		CommitSha:     c.CommitSha,
		BranchName:    c.BranchName,
		CommitMessage: c.CommitMessage,
		TaskID:        taskID,
		FilesChanged:  c.FilesChanged,
		Additions:     c.Additions,
		Deletions:     c.Deletions,
		Pushed:        c.Pushed,
		AuthoredAt:    authoredAt,
	}
	return p.commits.Upsert(ctx, commit)
}
