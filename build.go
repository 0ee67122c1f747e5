package packstream

import (
	"context"
	"fmt"
	"log/slog"
)

// Phase identifies a build's position in the two-phase header protocol.
// Phases advance strictly; PhaseFinalized is the only success state, and a
// build that stops short of it leaves the receiver with an unusable
// artifact.
type Phase uint8

const (
	// PhaseUnsent: nothing has been transmitted.
	PhaseUnsent Phase = iota

	// PhaseProvisionalSent: the placeholder header has been sent.
	PhaseProvisionalSent

	// PhaseContentStreamed: every non-metadata content item has streamed
	// and been renamed to its final identifier.
	PhaseContentStreamed

	// PhaseMetadataRegenerated: the metadata item has been regenerated and
	// streamed, and every deferred-size entry is resolved and streamed.
	PhaseMetadataRegenerated

	// PhaseFinalized: the finalized header has been committed.
	PhaseFinalized
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseUnsent:
		return "unsent"
	case PhaseProvisionalSent:
		return "provisional sent"
	case PhaseContentStreamed:
		return "content streamed"
	case PhaseMetadataRegenerated:
		return "metadata regenerated"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Build assembles and transmits one package per plan over tr.
//
// The build is strictly sequential and single-threaded: transport-ready
// wait, provisional header, content items, metadata regeneration and the
// deferred tail, then the finalized header commit. Failure at any step
// aborts the whole build with a *BuildError carrying the phase reached.
// Output already sent is not retractable and no retry happens at this
// layer; a caller that wants a retry restarts the whole build.
func Build(ctx context.Context, plan *Plan, tr Transport, opts ...BuildOption) (*Report, error) {
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := newSession(plan, tr, &cfg)
	if err != nil {
		return nil, &BuildError{Phase: PhaseUnsent, Err: err}
	}
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) (*Report, error) {
	phase := PhaseUnsent
	fail := func(err error) (*Report, error) {
		s.cfg.logger.Error("build failed",
			slog.String("package", s.name),
			slog.String("phase", phase.String()),
			slog.Any("error", err))
		return nil, &BuildError{Phase: phase, Err: err}
	}

	if w, ok := s.tr.(Waiter); ok {
		if err := w.WaitReady(ctx); err != nil {
			return fail(fmt.Errorf("transport ready: %w", err))
		}
	}

	if err := s.sendProvisional(ctx); err != nil {
		return fail(err)
	}
	phase = PhaseProvisionalSent

	for i := range s.items {
		if s.items[i].kind == KindMeta {
			continue
		}
		if err := s.streamPayload(ctx, &s.items[i], StageContent); err != nil {
			return fail(err)
		}
	}
	phase = PhaseContentStreamed

	if err := s.regenerateMeta(ctx); err != nil {
		return fail(err)
	}
	if err := s.streamAuxEntries(ctx); err != nil {
		return fail(err)
	}
	phase = PhaseMetadataRegenerated

	if err := s.commit(); err != nil {
		return fail(err)
	}

	rep := s.report()
	s.cfg.logger.Info("build finished",
		slog.String("package", rep.Name),
		slog.Uint64("total_size", rep.TotalSize),
		slog.Int("records", len(rep.Records)))
	return rep, nil
}

func (s *session) report() *Report {
	return &Report{
		Name:       s.name,
		HeaderSize: s.headerSize,
		TotalSize:  s.headerSize + s.sent,
		Records:    s.finalRecords(true),
	}
}
