package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vpsa-network/fl-service-layer/internal/fabric"
	"github.com/vpsa-network/fl-service-layer/internal/vpsa"
)

// tickTimeout bounds one scheduled aggregation attempt end to end: the
// config and round queries plus the round itself.
const tickTimeout = 2 * time.Minute

// Scheduler triggers aggregation rounds on a cron schedule. Each tick reads
// the ledger's aggregation config and the current round's submitted models,
// and runs a round once enough clients have submitted.
type Scheduler struct {
	coord  *Coordinator
	ledger Ledger
	cron   *cron.Cron
	log    zerolog.Logger
}

// NewScheduler wires a cron entry for the given spec (standard 5-field cron
// syntax, e.g. "*/5 * * * *").
func NewScheduler(spec string, coord *Coordinator, ledger Ledger, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		coord:  coord,
		ledger: ledger,
		cron:   cron.New(),
		log:    log.With().Str("component", "scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid aggregation schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling. It returns immediately.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled aggregation failed")
	}
}

// RunOnce performs one scheduled aggregation attempt: skip when fewer than
// MinClients models are submitted for the current round, aggregate otherwise.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	payload, err := s.ledger.Query(ctx, fabric.FnGetAggregationConfig, nil)
	if err != nil {
		return fmt.Errorf("read aggregation config: %w", err)
	}
	var cfg vpsa.AggregationConfig
	if err := payload.Decode(&cfg); err != nil {
		return fmt.Errorf("decode aggregation config: %w", err)
	}

	payload, err = s.ledger.Query(ctx, fabric.FnGetLocalModelsByRound, []string{strconv.Itoa(cfg.CurrentRound)})
	if err != nil {
		return fmt.Errorf("read round %d models: %w", cfg.CurrentRound, err)
	}
	var models []vpsa.LocalModel
	if err := payload.Decode(&models); err != nil {
		return fmt.Errorf("decode round %d models: %w", cfg.CurrentRound, err)
	}

	if len(models) < cfg.MinClients {
		s.log.Debug().
			Int("round", cfg.CurrentRound).
			Int("submitted", len(models)).
			Int("min_clients", cfg.MinClients).
			Msg("not enough submissions, skipping round")
		return nil
	}

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ModelID
	}

	_, err = s.coord.RunRound(ctx, ids, RoundParams{
		SourceWeight:    &cfg.SourceWeight,
		TargetWeight:    &cfg.TargetWeight,
		AlignmentWeight: &cfg.AlignmentWeight,
	})
	return err
}
