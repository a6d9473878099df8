package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/foxseedlab/trivia/internal/errors"
	"github.com/foxseedlab/trivia/internal/question"
	"github.com/foxseedlab/trivia/internal/repository"
	"github.com/foxseedlab/trivia/internal/webhook"
)

func TestEngine_SingleBooleanRound(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("The sky is blue.", "True")})
	ctx := context.Background()

	if err := h.engine.Start(ctx, "C1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := h.chat.contents()
	if len(got) != 2 {
		t.Fatalf("expected banner and prompt, got %q", got)
	}
	if got[0] != "Starting trivia, use !strivia to stop" {
		t.Fatalf("unexpected banner: %q", got[0])
	}
	if got[1] != "**Question 1 / 1**:\nTrue or False: The sky is blue." {
		t.Fatalf("unexpected prompt: %q", got[1])
	}

	if err := h.engine.Guess(ctx, "C1", "U2", "false"); err != nil {
		t.Fatalf("wrong guess: %v", err)
	}
	if len(h.chat.contents()) != 2 {
		t.Fatalf("wrong guess must not reply, got %q", h.chat.contents())
	}

	if err := h.engine.Guess(ctx, "C1", "U1", "true"); err != nil {
		t.Fatalf("correct guess: %v", err)
	}
	got = h.chat.contents()
	if len(got) != 4 {
		t.Fatalf("expected correct and game over messages, got %q", got)
	}
	if got[2] != "Correct <@U1>! The answer was: True" {
		t.Fatalf("unexpected correct message: %q", got[2])
	}
	if got[3] != "Game over! The winners are:\n🥇 <@U1> - **1** point" {
		t.Fatalf("unexpected game over message: %q", got[3])
	}

	active, _ := h.repo.GetActiveSession(ctx, "C1")
	if active != nil {
		t.Fatalf("session should be inactive, got %+v", active)
	}

	scores, err := h.engine.HighScores(ctx)
	if err != nil {
		t.Fatalf("high scores: %v", err)
	}
	if len(scores) != 1 || scores[0].UserID != "U1" || scores[0].Count != 1 {
		t.Fatalf("unexpected high scores: %+v", scores)
	}

	if len(h.webhook.payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(h.webhook.payloads))
	}
	p := h.webhook.payloads[0]
	if p.Reason != webhook.ReasonCompleted || p.RoundsPlayed != 1 || p.RoundTotal != 1 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if len(p.Winners) != 1 || p.Winners[0].UserID != "U1" || p.Winners[0].Points != 1 {
		t.Fatalf("unexpected winners: %+v", p.Winners)
	}

	armed := h.clock.armed()
	if len(armed) != 1 || armed[0].d != 20*time.Second {
		t.Fatalf("unexpected timers: %+v", armed)
	}
	h.clock.fire(0)
	if len(h.chat.contents()) != 4 {
		t.Fatalf("expired timer of a finished game must do nothing, got %q", h.chat.contents())
	}
}

func TestEngine_StartWhileRunning(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("q", "True")})
	ctx := context.Background()

	if err := h.engine.Start(ctx, "C1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := h.engine.Start(ctx, "C1", 1)
	if !apperrors.IsCode(err, apperrors.CodeAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if apperrors.Convert(err).Message != messageAlreadyRunning {
		t.Fatalf("unexpected message: %q", apperrors.Convert(err).Message)
	}
	if h.provider.calls != 1 {
		t.Fatalf("second start must not fetch questions, calls=%d", h.provider.calls)
	}

	if err := h.engine.Start(ctx, "C2", 1); err != nil {
		t.Fatalf("other channel should start independently: %v", err)
	}
}

func TestEngine_StartValidation(t *testing.T) {
	tests := map[string]struct {
		amount      int
		fetchErr    error
		wantCode    apperrors.Code
		wantMessage string
		wantFetch   int
	}{
		"amount too large": {
			amount:      21,
			wantCode:    apperrors.CodeInvalidArgument,
			wantMessage: messageInvalidAmount,
		},
		"negative amount": {
			amount:      -1,
			wantCode:    apperrors.CodeInvalidArgument,
			wantMessage: messageInvalidAmount,
		},
		"upstream refuses amount": {
			amount:      5,
			fetchErr:    question.ErrInvalidAmount,
			wantCode:    apperrors.CodeInvalidArgument,
			wantMessage: messageInvalidAmount,
			wantFetch:   1,
		},
		"provider offline": {
			amount:      5,
			fetchErr:    question.ErrUnavailable,
			wantCode:    apperrors.CodeUnavailable,
			wantMessage: messageQuestionsOffline,
			wantFetch:   1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, question.Batch{booleanQuestion("q", "True")})
			h.provider.err = tt.fetchErr

			err := h.engine.Start(context.Background(), "C1", tt.amount)
			if !apperrors.IsCode(err, tt.wantCode) {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
			if msg := apperrors.Convert(err).Message; msg != tt.wantMessage {
				t.Fatalf("message = %q, want %q", msg, tt.wantMessage)
			}
			if h.provider.calls != tt.wantFetch {
				t.Fatalf("fetch calls = %d, want %d", h.provider.calls, tt.wantFetch)
			}
			active, _ := h.repo.GetActiveSession(context.Background(), "C1")
			if active != nil {
				t.Fatalf("failed start must leave the channel idle, got %+v", active)
			}
			if len(h.chat.contents()) != 0 {
				t.Fatalf("failed start must not announce, got %q", h.chat.contents())
			}
		})
	}
}

func TestEngine_InitFailureReleasesChannel(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("q", "True")})
	ctx := context.Background()
	h.repo.initErr = errors.New("disk full")

	err := h.engine.Start(ctx, "C1", 1)
	if !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	h.repo.initErr = nil
	if err := h.engine.Start(ctx, "C1", 1); err != nil {
		t.Fatalf("channel should be free after a failed start: %v", err)
	}
}

func TestEngine_ExpiryAdvancesAndStaleTimersAreIgnored(t *testing.T) {
	h := newHarness(t, question.Batch{
		booleanQuestion("first", "True"),
		booleanQuestion("second", "False"),
	})
	ctx := context.Background()

	if err := h.engine.Start(ctx, "C1", 2); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.clock.fire(0)
	if last := h.chat.last(); last != "**Question 2 / 2**:\nTrue or False: second" {
		t.Fatalf("expected second prompt, got %q", last)
	}
	if h.chat.countContaining("**Time's up!** The answer was: True") != 1 {
		t.Fatalf("expected one time's up message, got %q", h.chat.contents())
	}

	// The first timer firing again is stale: round 0 is already resolved.
	h.clock.fire(0)
	if h.chat.countContaining("Time's up") != 1 {
		t.Fatalf("stale timer must not resolve again, got %q", h.chat.contents())
	}

	if err := h.engine.Guess(ctx, "C1", "U1", "FALSE"); err != nil {
		t.Fatalf("guess: %v", err)
	}
	h.clock.fire(1)

	if n := h.chat.countContaining("Game over"); n != 1 {
		t.Fatalf("game over announced %d times, want 1", n)
	}
	if len(h.webhook.payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(h.webhook.payloads))
	}
}

func TestEngine_ConcurrentCorrectGuesses(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("q", "True")})
	ctx := context.Background()
	if err := h.engine.Start(ctx, "C1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for _, u := range []string{"U1", "U2", "U3", "U4"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.engine.Guess(ctx, "C1", u, "true"); err != nil {
				t.Errorf("guess by %s: %v", u, err)
			}
		}()
	}
	wg.Wait()

	if n := h.chat.countContaining("Correct <@"); n != 1 {
		t.Fatalf("correct announced %d times, want 1", n)
	}
	if n := h.chat.countContaining("Game over"); n != 1 {
		t.Fatalf("game over announced %d times, want 1", n)
	}
	all, _ := h.repo.AllTimeScores(ctx)
	if len(all) != 1 || all[0].Count != 1 {
		t.Fatalf("exactly one point must be awarded, got %+v", all)
	}
}

func TestEngine_StopWithoutScores(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("a", "True"), booleanQuestion("b", "True")})
	ctx := context.Background()

	if err := h.engine.Stop(ctx, "C1"); err != nil {
		t.Fatalf("stop on idle channel: %v", err)
	}
	if len(h.chat.contents()) != 0 {
		t.Fatalf("stop on idle channel must be silent, got %q", h.chat.contents())
	}

	if err := h.engine.Start(ctx, "C1", 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Stop(ctx, "C1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if last := h.chat.last(); last != messageGameOverNoWinners {
		t.Fatalf("unexpected stop message: %q", last)
	}
	if len(h.webhook.payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(h.webhook.payloads))
	}
	p := h.webhook.payloads[0]
	if p.Reason != webhook.ReasonStopped || p.RoundsPlayed != 0 || p.RoundTotal != 2 || len(p.Winners) != 0 {
		t.Fatalf("unexpected payload: %+v", p)
	}

	before := len(h.chat.contents())
	h.clock.fire(0)
	if err := h.engine.Guess(ctx, "C1", "U1", "true"); err != nil {
		t.Fatalf("guess after stop: %v", err)
	}
	if len(h.chat.contents()) != before {
		t.Fatalf("stopped game must not react, got %q", h.chat.contents())
	}
}

func TestEngine_RoundIndexOnlyMovesForward(t *testing.T) {
	batch := question.Batch{
		booleanQuestion("a", "True"),
		booleanQuestion("b", "True"),
		booleanQuestion("c", "True"),
	}
	h := newHarness(t, batch)
	ctx := context.Background()
	if err := h.engine.Start(ctx, "C1", 3); err != nil {
		t.Fatalf("start: %v", err)
	}
	s, _ := h.repo.GetActiveSession(ctx, "C1")

	prev := -1
	for i := 0; i < 3; i++ {
		st, err := h.repo.GetRoundState(ctx, s.ID)
		if err != nil {
			t.Fatalf("round state: %v", err)
		}
		if st.RoundIndex <= prev {
			t.Fatalf("round index went from %d to %d", prev, st.RoundIndex)
		}
		prev = st.RoundIndex
		h.clock.fire(i)
	}

	if _, err := h.repo.GetRoundState(ctx, s.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("finished game should drop its round state, got %v", err)
	}
	if n := h.chat.countContaining("Time's up"); n != 3 {
		t.Fatalf("time's up announced %d times, want 3", n)
	}
	if last := h.chat.last(); last != messageGameOverNoWinners {
		t.Fatalf("unexpected final message: %q", last)
	}
}

func TestEngine_ChannelSettings(t *testing.T) {
	h := newHarness(t, question.Batch{
		booleanQuestion("a", "True"),
		booleanQuestion("b", "True"),
		booleanQuestion("c", "True"),
	})
	ctx := context.Background()

	if err := h.engine.SetRoundTimeout(ctx, "C1", 5); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid timeout, got %v", err)
	}
	if err := h.engine.SetQuestionCount(ctx, "C1", 21); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid count, got %v", err)
	}
	if err := h.engine.SetRoundTimeout(ctx, "C1", 45); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	if err := h.engine.SetQuestionCount(ctx, "C1", 2); err != nil {
		t.Fatalf("set count: %v", err)
	}

	if err := h.engine.Start(ctx, "C1", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	armed := h.clock.armed()
	if len(armed) != 1 || armed[0].d != 45*time.Second {
		t.Fatalf("expected a 45s timer, got %+v", armed)
	}
	s, _ := h.repo.GetActiveSession(ctx, "C1")
	st, _ := h.repo.GetRoundState(ctx, s.ID)
	if st.RoundTotal != 2 {
		t.Fatalf("round total = %d, want channel default 2", st.RoundTotal)
	}

	settings, err := h.engine.Settings(ctx, "C2")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.RoundTimeout != 20*time.Second || settings.QuestionCount != 10 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestAnswerText(t *testing.T) {
	tests := map[string]struct {
		q    question.Question
		want string
	}{
		"boolean": {
			q:    booleanQuestion("q", "False"),
			want: "False",
		},
		"multiple uses the labelled choice": {
			q: question.Question{
				Type:             question.TypeMultiple,
				Prompt:           "q",
				CorrectAnswer:    "Banana",
				IncorrectAnswers: []string{"Apple", "Cherry", "Date"},
			},
			want: "**B**. Banana",
		},
		"entities are decoded": {
			q: question.Question{
				Type:             question.TypeMultiple,
				Prompt:           "q",
				CorrectAnswer:    "Rock &amp; Roll",
				IncorrectAnswers: []string{"Jazz"},
			},
			want: "**B**. Rock & Roll",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := answerText(tt.q); got != tt.want {
				t.Fatalf("answerText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGameOverMessage(t *testing.T) {
	got := gameOverMessage([]repository.UserScore{{UserID: "U1", Count: 3}, {UserID: "U2", Count: 1}})
	want := "Game over! The winners are:\n🥇 <@U1> - **3** points\n🥈 <@U2> - **1** point"
	if got != want {
		t.Fatalf("gameOverMessage() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(allTimeMessage(nil), messageAllTimeHeader) {
		t.Fatalf("all time message must carry the header, got %q", allTimeMessage(nil))
	}
}

func TestEngine_FailedFinalStopIsRecovered(t *testing.T) {
	tests := map[string]struct {
		recover func(ctx context.Context, h *harness) error
	}{
		"next guess closes the game": {
			recover: func(ctx context.Context, h *harness) error {
				return h.engine.Guess(ctx, "C1", "U2", "true")
			},
		},
		"next start closes the game and starts a new one": {
			recover: func(ctx context.Context, h *harness) error {
				return h.engine.Start(ctx, "C1", 1)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, question.Batch{booleanQuestion("q", "True")})
			ctx := context.Background()
			if err := h.engine.Start(ctx, "C1", 1); err != nil {
				t.Fatalf("start: %v", err)
			}

			h.repo.stopFailures = 1
			err := h.engine.Guess(ctx, "C1", "U1", "true")
			if !apperrors.IsCode(err, apperrors.CodeUnavailable) {
				t.Fatalf("expected unavailable from the failed stop, got %v", err)
			}
			if h.chat.countContaining("Game over") != 0 {
				t.Fatalf("game over must wait for the stop to commit, got %q", h.chat.contents())
			}

			if err := tt.recover(ctx, h); err != nil {
				t.Fatalf("recover: %v", err)
			}
			if n := h.chat.countContaining("Game over! The winners are:\n🥇 <@U1> - **1** point"); n != 1 {
				t.Fatalf("leaderboard announced %d times, want 1: %q", n, h.chat.contents())
			}
			if len(h.webhook.payloads) != 1 || h.webhook.payloads[0].Reason != webhook.ReasonCompleted {
				t.Fatalf("unexpected webhook payloads: %+v", h.webhook.payloads)
			}
			all, _ := h.repo.AllTimeScores(ctx)
			if len(all) != 1 || all[0].UserID != "U1" || all[0].Count != 1 {
				t.Fatalf("recovery must not award more points, got %+v", all)
			}
		})
	}
}

func TestEngine_ScoresUnavailableStillAnnouncesEnd(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("q", "True")})
	ctx := context.Background()
	if err := h.engine.Start(ctx, "C1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.repo.scoresErr = errors.New("connection reset")
	if err := h.engine.Guess(ctx, "C1", "U1", "true"); err != nil {
		t.Fatalf("guess: %v", err)
	}
	if last := h.chat.last(); last != messageGameOverScoresUnavailable {
		t.Fatalf("unexpected final message: %q", last)
	}
	if len(h.webhook.payloads) != 1 || len(h.webhook.payloads[0].Winners) != 0 {
		t.Fatalf("expected one webhook without winners, got %+v", h.webhook.payloads)
	}
	if active, _ := h.repo.GetActiveSession(ctx, "C1"); active != nil {
		t.Fatalf("session should be stopped, got %+v", active)
	}
}

func TestEngine_GuessLosingToExpiryIsDropped(t *testing.T) {
	h := newHarness(t, question.Batch{booleanQuestion("a", "True"), booleanQuestion("b", "True")})
	ctx := context.Background()
	if err := h.engine.Start(ctx, "C1", 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	s, _ := h.repo.GetActiveSession(ctx, "C1")
	observed, err := h.repo.GetRoundState(ctx, s.ID)
	if err != nil {
		t.Fatalf("round state: %v", err)
	}

	h.clock.fire(0)

	if err := h.engine.resolve(ctx, "C1", observed, "U1"); err != nil {
		t.Fatalf("late resolve: %v", err)
	}
	if n := h.chat.countContaining("Correct"); n != 0 {
		t.Fatalf("late guess must not be announced, got %q", h.chat.contents())
	}
	if all, _ := h.repo.AllTimeScores(ctx); len(all) != 0 {
		t.Fatalf("late guess must not score, got %+v", all)
	}
	st, _ := h.repo.GetRoundState(ctx, s.ID)
	if st.RoundIndex != 1 {
		t.Fatalf("round index = %d, want 1", st.RoundIndex)
	}
}
