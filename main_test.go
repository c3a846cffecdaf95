package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts     AppOptions
	called   map[string]bool
	applyErr error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) error {
	m.opts = opts
	return m.applyErr
}
func (m *mockApp) RunMetrics(context.Context) error { m.called["RunMetrics"] = true; return nil }
func (m *mockApp) RunClip(context.Context) error    { m.called["RunClip"] = true; return nil }
func (m *mockApp) RunRender(context.Context) error  { m.called["RunRender"] = true; return nil }

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Metrics",
			args:           []string{"metrics", "trees.csv", "-o", "crowns.shp", "--height-mode", "relative", "--alpha", "2.5"},
			expectedCalled: "RunMetrics",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Input != "trees.csv" {
					t.Errorf("expected Input trees.csv, got %s", opts.Input)
				}
				if opts.Output != "crowns.shp" {
					t.Errorf("expected Output crowns.shp, got %s", opts.Output)
				}
				if opts.HeightMode != "relative" {
					t.Errorf("expected HeightMode relative, got %s", opts.HeightMode)
				}
				if opts.AlphaDefault == nil || *opts.AlphaDefault != 2.5 {
					t.Errorf("expected AlphaDefault 2.5, got %v", opts.AlphaDefault)
				}
				if opts.MinFraction != nil {
					t.Errorf("expected MinFraction unset, got %v", *opts.MinFraction)
				}
			},
		},
		{
			name:           "MetricsExtras",
			args:           []string{"metrics", "trees.csv", "--no-volume3d", "--store", "runs.db", "--map", "map.png", "--regularize", "opening", "--workers", "3"},
			expectedCalled: "RunMetrics",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.NoVolume3D {
					t.Error("expected NoVolume3D true")
				}
				if opts.StorePath != "runs.db" {
					t.Errorf("expected StorePath runs.db, got %s", opts.StorePath)
				}
				if opts.RenderOutput != "map.png" {
					t.Errorf("expected RenderOutput map.png, got %s", opts.RenderOutput)
				}
				if opts.Regularize != "opening" {
					t.Errorf("expected Regularize opening, got %s", opts.Regularize)
				}
				if opts.Workers == nil || *opts.Workers != 3 {
					t.Errorf("expected Workers 3, got %v", opts.Workers)
				}
				if opts.AlphaDefault != nil {
					t.Error("expected AlphaDefault unset when the flag is absent")
				}
			},
		},
		{
			name:           "Clip",
			args:           []string{"clip", "cloud.txt", "--plots", "plots.shp", "--plot", "7", "--min-fraction", "0.6", "--delimiter", "space"},
			expectedCalled: "RunClip",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.PlotsFile != "plots.shp" {
					t.Errorf("expected PlotsFile plots.shp, got %s", opts.PlotsFile)
				}
				if opts.PlotID != "7" {
					t.Errorf("expected PlotID 7, got %s", opts.PlotID)
				}
				if opts.MinFraction == nil || *opts.MinFraction != 0.6 {
					t.Errorf("expected MinFraction 0.6, got %v", opts.MinFraction)
				}
				if opts.Delimiter != "space" {
					t.Errorf("expected Delimiter space, got %s", opts.Delimiter)
				}
			},
		},
		{
			name:           "Render",
			args:           []string{"render", "crowns.geojson", "--format", "png", "--height-classes", "arbitrary", "--crs", "25832"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Format != "png" {
					t.Errorf("expected Format png, got %s", opts.Format)
				}
				if opts.HeightClasses != "arbitrary" {
					t.Errorf("expected HeightClasses arbitrary, got %s", opts.HeightClasses)
				}
				if opts.CRSEPSG == nil || *opts.CRSEPSG != 25832 {
					t.Errorf("expected CRSEPSG 25832, got %v", opts.CRSEPSG)
				}
			},
		},
		{
			name:           "ConfigAndDebug",
			args:           []string{"--config", "crownmesh.yaml", "--debug", "metrics"},
			expectedCalled: "RunMetrics",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "crownmesh.yaml" {
					t.Errorf("expected ConfigFile crownmesh.yaml, got %s", opts.ConfigFile)
				}
				if !opts.Debug {
					t.Error("expected Debug true")
				}
				if opts.Input != "" {
					t.Errorf("expected empty Input, got %s", opts.Input)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(context.Background(), tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one runner, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_ApplyOptionsError(t *testing.T) {
	app := newMockApp()
	app.applyErr = errors.New("bad config")
	var out bytes.Buffer
	err := run(context.Background(), []string{"metrics", "trees.csv"}, &out, app)
	if err == nil || err.Error() != "bad config" {
		t.Fatalf("expected bad config error, got %v", err)
	}
	if app.called["RunMetrics"] {
		t.Error("RunMetrics should not run when options fail")
	}
}

func TestRun_Version(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run(context.Background(), []string{"version"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expected := "crownmesh version: " + Version
	if !strings.Contains(out.String(), expected) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--help"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, cmd := range []string{"metrics", "clip", "render"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("expected help to list %s, got: %s", cmd, out.String())
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run(context.Background(), []string{"delineate"}, &out, app)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_TooManyArgs(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run(context.Background(), []string{"metrics", "a.csv", "b.csv"}, &out, app); err == nil {
		t.Fatal("expected error for two inputs")
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
