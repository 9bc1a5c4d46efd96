package main

import (
	"reflect"
	"testing"

	"github.com/pgmove/pgmove/internal/config"
	"github.com/urfave/cli/v2"
)

func TestApplyFlagOverrides(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantStages   []string
		wantPageSize int
	}{
		{
			name:         "no flags keep config values",
			args:         []string{"app", "run"},
			wantStages:   []string{"schema"},
			wantPageSize: 500,
		},
		{
			name:         "stage flags replace config stages",
			args:         []string{"app", "run", "--stage", "data", "--stage", "verify"},
			wantStages:   []string{"data", "verify"},
			wantPageSize: 500,
		},
		{
			name:         "page size flag wins",
			args:         []string{"app", "run", "--page-size", "200"},
			wantStages:   []string{"schema"},
			wantPageSize: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Migration: config.MigrationConfig{
					Stages:   []string{"schema"},
					PageSize: 500,
				},
			}

			app := &cli.App{
				Commands: []*cli.Command{
					{
						Name: "run",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "stage"},
							&cli.IntFlag{Name: "page-size"},
						},
						Action: func(c *cli.Context) error {
							applyFlagOverrides(c, cfg)
							return nil
						},
					},
				},
			}

			if err := app.Run(tt.args); err != nil {
				t.Fatalf("app.Run: %v", err)
			}
			if !reflect.DeepEqual(cfg.Migration.Stages, tt.wantStages) {
				t.Errorf("stages = %v, want %v", cfg.Migration.Stages, tt.wantStages)
			}
			if cfg.Migration.PageSize != tt.wantPageSize {
				t.Errorf("page size = %d, want %d", cfg.Migration.PageSize, tt.wantPageSize)
			}
		})
	}
}
