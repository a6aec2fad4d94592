package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/parallel"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardCheckpoints(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoint")
	cfg.Checkpoint.BackupDir = filepath.Join(dir, "checkpoint", "backups")
	cfg.SetDefaults()

	ctx := context.Background()
	tmpl := &param.Template{Name: "books"}
	job := parallel.Job{Run: param.Run{MaxPages: 3, MaxItems: 10}, Template: tmpl}

	require.NoError(t, guardCheckpoints(ctx, cfg, []parallel.Job{job}, nil))

	cp, err := checkpoint.Open(cfg, job.Run.ID(tmpl), nil, nil)
	require.NoError(t, err)
	require.NoError(t, cp.SaveState(ctx, model.StatePatch{CurrentPage: model.Int(2), ItemsCollected: model.Int(12)}))

	err = guardCheckpoints(ctx, cfg, []parallel.Job{job}, nil)
	require.ErrorIs(t, err, crawlerr.ErrConfiguration)
	assert.Contains(t, err.Error(), "--fresh")

	resume := job
	resume.Run.Resume = true
	require.NoError(t, guardCheckpoints(ctx, cfg, []parallel.Job{resume}, nil))

	require.NoError(t, cp.MarkCompleted(ctx))
	require.NoError(t, cp.Close())
	require.NoError(t, guardCheckpoints(ctx, cfg, []parallel.Job{job}, nil))
}
