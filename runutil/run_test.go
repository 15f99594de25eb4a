package runutil

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/flowterra/flowterra"
	"github.com/flowterra/flowterra/collective"
	"github.com/flowterra/flowterra/gridio"
)

func testRunConfig() *flowterra.Config {
	cfg := &flowterra.Config{
		DtS:        60,
		DurationS:  120,
		D8Encoding: "esri",
	}
	cfg.SCS.IaRatio = 0.2
	cfg.Particle.TargetVolumeM3 = 0.1
	cfg.Particle.TravelTimeOverlandS = 60
	cfg.Particle.OutflowSink = true
	cfg.Risk.PLow, cfg.Risk.PHigh = 1, 99
	cfg.Risk.Balance = 0.5
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func TestRunSingleRankReachesCompletion(t *testing.T) {
	dir := t.TempDir()
	domainPath := filepath.Join(dir, "domain.nc")
	writeTestDomain(t, domainPath, 2, 3)
	outputPath := filepath.Join(dir, "output.nc")

	hub := collective.NewLocalHub(1)
	group := collective.NewLocalGroup(hub, 0)

	res, err := Run(RunOptions{
		Config:      testRunConfig(),
		DomainPath:  domainPath,
		OutputPath:  outputPath,
		RainSources: []flowterra.RainfallSampler{gridio.NewScalarSource(2, 3, 50, flowterra.ModeDepthMMPerStep)},
		Group:       group,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ElapsedS < 120 {
		t.Errorf("ElapsedS = %v, want >= 120", res.ElapsedS)
	}
	if res.StepCount != 2 {
		t.Errorf("StepCount = %d, want 2", res.StepCount)
	}
}

func TestRunMultiRankAgreesWithSingleRank(t *testing.T) {
	dir := t.TempDir()
	domainPath := filepath.Join(dir, "domain.nc")
	writeTestDomain(t, domainPath, 4, 2)

	const n = 2
	hub := collective.NewLocalHub(n)
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			group := collective.NewLocalGroup(hub, rank)
			res, err := Run(RunOptions{
				Config:      testRunConfig(),
				DomainPath:  domainPath,
				RainSources: []flowterra.RainfallSampler{gridio.NewScalarSource(4, 2, 50, flowterra.ModeDepthMMPerStep)},
				Group:       group,
			})
			results[rank] = res
			errs[rank] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("rank %d: Run: %v", i, errs[i])
		}
	}
	if results[0].StepCount != results[1].StepCount || results[0].ElapsedS != results[1].ElapsedS {
		t.Errorf("ranks disagree on completion: %+v vs %+v", results[0], results[1])
	}
}

func TestRunWithCheckpointAndRestart(t *testing.T) {
	dir := t.TempDir()
	domainPath := filepath.Join(dir, "domain.nc")
	writeTestDomain(t, domainPath, 2, 2)
	restartPath := filepath.Join(dir, "restart.gob")

	cfg := testRunConfig()
	cfg.Checkpoint.EverySteps = 1

	hub := collective.NewLocalHub(1)
	group := collective.NewLocalGroup(hub, 0)

	_, err := Run(RunOptions{
		Config:      cfg,
		DomainPath:  domainPath,
		RestartPath: restartPath,
		RainSources: []flowterra.RainfallSampler{gridio.NewScalarSource(2, 2, 50, flowterra.ModeDepthMMPerStep)},
		Group:       group,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := gridio.LoadRestart(restartPath, cfg); err != nil {
		t.Fatalf("expected a readable checkpoint file, got: %v", err)
	}
}
