package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
)

func newTestFollowUpService(s *memStore, q *captureQueue) *FollowUpService {
	svc := NewFollowUpService(s, q, nil)
	svc.now = func() time.Time { return seqBase }
	return svc
}

func TestInitiateFollowUp(t *testing.T) {
	s := newMemStore()
	seedSequence(s)
	delete(s.followUps, "f1")

	q := newCaptureQueue()
	svc := newTestFollowUpService(s, q)

	fu, err := svc.Initiate(context.Background(), "ws1", "cl1", "cv1")
	require.NoError(t, err)
	require.Equal(t, domain.FollowUpActive, fu.Status)
	require.Equal(t, -1, fu.CurrentStepOrder)
	require.NotNil(t, fu.NextMessageAt)
	require.True(t, fu.NextMessageAt.Equal(seqBase.Add(time.Minute)), "first step due after rule 1's delay")

	jobs := q.ofType(JobTypeSequenceStep)
	require.Len(t, jobs, 1)
	require.Equal(t, time.Minute, jobs[0].Opts.Delay)
	require.Equal(t, StepKey(fu.ID, "r1"), jobs[0].Opts.IdempotencyKey)
}

func TestInitiateRejectsSecondActiveFollowUp(t *testing.T) {
	s := newMemStore()
	seedSequence(s)

	svc := newTestFollowUpService(s, newCaptureQueue())
	_, err := svc.Initiate(context.Background(), "ws1", "cl1", "cv1")
	require.ErrorIs(t, err, ErrFollowUpExists)
}

func TestInitiateAllowedAfterTerminalFollowUp(t *testing.T) {
	s := newMemStore()
	seedSequence(s)
	s.followUps["f1"].Status = domain.FollowUpCompleted

	svc := newTestFollowUpService(s, newCaptureQueue())
	_, err := svc.Initiate(context.Background(), "ws1", "cl1", "cv1")
	require.NoError(t, err)
}

func TestInitiateWithoutRules(t *testing.T) {
	s := newMemStore()
	svc := newTestFollowUpService(s, newCaptureQueue())
	_, err := svc.Initiate(context.Background(), "ws1", "cl1", "cv1")
	require.ErrorIs(t, err, ErrNoRules)
}

func TestPauseAndResume(t *testing.T) {
	s := newMemStore()
	seedSequence(s)
	nextAt := seqBase.Add(30 * time.Second)
	s.followUps["f1"].NextMessageAt = &nextAt

	q := newCaptureQueue()
	svc := newTestFollowUpService(s, q)

	require.NoError(t, svc.Pause(context.Background(), "f1"))
	require.Equal(t, domain.FollowUpPaused, s.followUps["f1"].Status)

	require.NoError(t, svc.Resume(context.Background(), "f1"))
	require.Equal(t, domain.FollowUpActive, s.followUps["f1"].Status)

	// Resume re-arms the next rule with the remaining wait.
	jobs := q.ofType(JobTypeSequenceStep)
	require.Len(t, jobs, 1)
	require.Equal(t, 30*time.Second, jobs[0].Opts.Delay)
	var p StepPayload
	jobs[0].decode(t, &p)
	require.Equal(t, "r1", p.RuleID)
}

func TestResumeOverdueStepRunsImmediately(t *testing.T) {
	s := newMemStore()
	seedSequence(s)
	past := seqBase.Add(-time.Hour)
	s.followUps["f1"].NextMessageAt = &past
	s.followUps["f1"].Status = domain.FollowUpPaused

	q := newCaptureQueue()
	svc := newTestFollowUpService(s, q)
	require.NoError(t, svc.Resume(context.Background(), "f1"))

	jobs := q.ofType(JobTypeSequenceStep)
	require.Len(t, jobs, 1)
	require.Equal(t, time.Duration(0), jobs[0].Opts.Delay)
}

func TestResumePastLastRuleCompletes(t *testing.T) {
	s := newMemStore()
	seedSequence(s)
	s.followUps["f1"].Status = domain.FollowUpPaused
	s.followUps["f1"].CurrentStepOrder = 1

	q := newCaptureQueue()
	svc := newTestFollowUpService(s, q)
	require.NoError(t, svc.Resume(context.Background(), "f1"))

	require.Equal(t, domain.FollowUpCompleted, s.followUps["f1"].Status)
	require.Empty(t, q.jobs)
}

func TestFollowUpControlTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.FollowUpStatus
		op      func(*FollowUpService, context.Context) error
		want    domain.FollowUpStatus
		wantErr bool
	}{
		{
			name: "cancel active",
			from: domain.FollowUpActive,
			op:   func(s *FollowUpService, ctx context.Context) error { return s.Cancel(ctx, "f1") },
			want: domain.FollowUpCancelled,
		},
		{
			name: "cancel paused",
			from: domain.FollowUpPaused,
			op:   func(s *FollowUpService, ctx context.Context) error { return s.Cancel(ctx, "f1") },
			want: domain.FollowUpCancelled,
		},
		{
			name: "convert active",
			from: domain.FollowUpActive,
			op:   func(s *FollowUpService, ctx context.Context) error { return s.Convert(ctx, "f1") },
			want: domain.FollowUpConverted,
		},
		{
			name:    "cancel completed",
			from:    domain.FollowUpCompleted,
			op:      func(s *FollowUpService, ctx context.Context) error { return s.Cancel(ctx, "f1") },
			wantErr: true,
		},
		{
			name:    "pause paused",
			from:    domain.FollowUpPaused,
			op:      func(s *FollowUpService, ctx context.Context) error { return s.Pause(ctx, "f1") },
			wantErr: true,
		},
		{
			name:    "resume active",
			from:    domain.FollowUpActive,
			op:      func(s *FollowUpService, ctx context.Context) error { return s.Resume(ctx, "f1") },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			seedSequence(s)
			s.followUps["f1"].Status = tt.from

			svc := newTestFollowUpService(s, newCaptureQueue())
			err := tt.op(svc, context.Background())
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidTransition))
				require.Equal(t, tt.from, s.followUps["f1"].Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, s.followUps["f1"].Status)
			require.NotNil(t, s.followUps["f1"].CompletedAt)
		})
	}
}
