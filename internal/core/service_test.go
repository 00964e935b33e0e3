package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleCSV = "event,category,bib,name,date\n" +
	"City Run,10K,12,Ana,2025-06-01\n" +
	"City Run,10K,3,Bo,2025-06-01\n" +
	"City Run,5K,40,Cy,2025-06-01\n"

func newTestService(t *testing.T) *Service {
	t.Helper()
	factory, _ := stubFactory()
	var calls []string
	svc, err := NewService(Options{
		MaxSessions:          2,
		MaxConcurrentBatches: 1,
		MaxBatchWait:         50 * time.Millisecond,
		Generate:             GenerateConfig{Deriver: fakeDeriver(&calls)},
		Export:               testExportConfig(factory),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestNewService_RequiresRenderer(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Error("expected error without a renderer factory")
	}
}

func TestService_Sessions(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.CreateSession(); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.CreateSession(); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("third session err = %v, want ErrTooManySessions", err)
	}

	got, err := svc.Session(a.ID)
	if err != nil || got != a {
		t.Fatalf("Session(%s) = %v, %v", a.ID, got, err)
	}
	if a.Theme() != DefaultTheme {
		t.Errorf("new session theme = %q", a.Theme())
	}

	if err := svc.RemoveSession(a.ID); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if _, err := svc.Session(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("removed session lookup err = %v", err)
	}
	if n := svc.SessionCount(); n != 1 {
		t.Errorf("SessionCount = %d, want 1", n)
	}
}

func TestService_Pipeline(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()
	ctx := context.Background()

	participants, err := svc.Ingest(sess.ID, strings.NewReader(sampleCSV), int64(len(sampleCSV)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(participants) != 3 || participants[0].BibNumber != "3" {
		t.Fatalf("participants = %+v", participants)
	}

	if err := svc.Generate(ctx, sess.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	archive, err := svc.Export(ctx, sess.ID, ExportOptions{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if archive.Files != 3 {
		t.Errorf("Files = %d, want 3", archive.Files)
	}
	if st := svc.LimiterStatus(); st.Active != 0 {
		t.Errorf("limiter still holds %d slots", st.Active)
	}
}

func TestService_StartGeneration(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()
	if _, err := svc.Ingest(sess.ID, strings.NewReader(sampleCSV), 0); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	updates, detach, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	defer detach()

	if err := svc.StartGeneration(context.Background(), sess.ID); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-updates:
			if p.Stage == StageComplete && p.Current == 3 {
				if n := len(sess.Barcodes()); n != 3 {
					t.Errorf("barcodes = %d, want 3", n)
				}
				return
			}
		case <-timeout:
			t.Fatal("generation did not complete")
		}
	}
}

func TestService_StartExport(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()
	ctx := context.Background()
	if _, err := svc.Ingest(sess.ID, strings.NewReader(sampleCSV), 0); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := svc.Generate(ctx, sess.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := svc.StartExport(ctx, sess.ID, ExportOptions{Transparent: true}); err != nil {
		t.Fatalf("StartExport: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sess.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	archive, err := sess.Archive()
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if archive.Files != 3 {
		t.Errorf("Files = %d, want 3", archive.Files)
	}
}

func TestService_StartGenerationNoData(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()

	if err := svc.StartGeneration(context.Background(), sess.ID); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	if st := svc.LimiterStatus(); st.Active != 0 {
		t.Error("slot leaked after a rejected start")
	}
}

func TestService_BusyAndLimiter(t *testing.T) {
	svc := newTestService(t)
	a, _ := svc.CreateSession()
	b, _ := svc.CreateSession()
	for _, s := range []*Session{a, b} {
		if _, err := svc.Ingest(s.ID, strings.NewReader(sampleCSV), 0); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	// Hold the only batch slot.
	if !svc.limiter.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	err := svc.StartGeneration(context.Background(), b.ID)
	svc.limiter.Release()
	if !errors.Is(err, ErrTooManyBatches) {
		t.Errorf("err = %v, want ErrTooManyBatches", err)
	}

	// Claim session a as if a stage were running.
	if err := a.begin(StageExporting, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := svc.StartGeneration(context.Background(), a.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if err := svc.RemoveSession(a.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("RemoveSession of busy session err = %v, want ErrBusy", err)
	}
	a.end(idleProgress)
}

func TestService_SetThemeAndBackground(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()

	if err := svc.SetTheme(sess.ID, "theme-green"); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if err := svc.SetTheme(sess.ID, "theme-pink"); err == nil {
		t.Error("unknown theme accepted")
	}
	if sess.Theme() != "theme-green" {
		t.Errorf("theme = %q", sess.Theme())
	}

	if err := svc.SetBackground(sess.ID, []byte{1, 2, 3}, "image/png"); err != nil {
		t.Fatalf("SetBackground: %v", err)
	}
	if !sess.HasBackground() {
		t.Error("background not stored")
	}
	notes := sess.Notifications(0)
	if len(notes) != 1 || notes[0].Title != "Background Image Loaded" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestService_UnknownSession(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Ingest("nope", strings.NewReader(sampleCSV), 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Ingest err = %v", err)
	}
	if err := svc.Generate(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Generate err = %v", err)
	}
	if _, _, err := svc.SubscribeProgress("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SubscribeProgress err = %v", err)
	}
}

func TestSession_NotificationsAreBounded(t *testing.T) {
	sess := newSession("n")
	for i := 0; i < MaxNotifications+5; i++ {
		sess.notify("t", "m", VariantDefault)
	}

	all := sess.Notifications(0)
	if len(all) != MaxNotifications {
		t.Fatalf("kept %d notifications, want %d", len(all), MaxNotifications)
	}
	if all[0].ID != 6 {
		t.Errorf("oldest kept ID = %d, want 6", all[0].ID)
	}
	if got := sess.Notifications(all[len(all)-1].ID); len(got) != 0 {
		t.Errorf("nothing should be newer than the last ID, got %d", len(got))
	}
}

func TestSession_SubscribeDetach(t *testing.T) {
	sess := newSession("s")
	ch, detach := sess.Subscribe()

	if p := <-ch; p != idleProgress {
		t.Errorf("first update = %+v, want current progress", p)
	}
	detach()
	detach()

	sess.setProgress(GenerationProgress{Current: 1, Total: 2, Stage: StageGenerating})
	select {
	case p := <-ch:
		t.Errorf("detached listener received %+v", p)
	default:
	}
}

func TestSession_SlowListenerSeesFinalProgress(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()
	data := generateParticipantCSV(100)
	if _, err := svc.Ingest(sess.ID, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	updates, detach, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	defer detach()

	// Nothing reads until the batch is over.
	if err := svc.Generate(context.Background(), sess.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var last GenerationProgress
	received := 0
	for {
		select {
		case p := <-updates:
			last = p
			received++
			continue
		default:
		}
		break
	}

	want := GenerationProgress{Current: 100, Total: 100, Stage: StageComplete}
	if last != want {
		t.Errorf("last update = %+v after %d updates, want %+v", last, received, want)
	}
	if received > cap(updates) {
		t.Errorf("received %d updates, buffer holds %d", received, cap(updates))
	}
}

func TestService_SessionLookupKeepsSessionAlive(t *testing.T) {
	svc := newTestService(t)
	sess, _ := svc.CreateSession()

	sess.mu.Lock()
	sess.lastActive = time.Now().Add(-3 * time.Hour)
	sess.mu.Unlock()

	if _, err := svc.Session(sess.ID); err != nil {
		t.Fatalf("Session: %v", err)
	}
	if n := svc.sweepSessions(time.Now(), time.Hour); n != 0 {
		t.Errorf("swept %d sessions right after a lookup", n)
	}

	sess.mu.Lock()
	sess.lastActive = time.Now().Add(-3 * time.Hour)
	sess.mu.Unlock()

	_, detach, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	detach()
	if n := svc.sweepSessions(time.Now(), time.Hour); n != 0 {
		t.Errorf("swept %d sessions right after subscribing", n)
	}
}

func TestSweepSessions(t *testing.T) {
	svc := newTestService(t)
	idle, _ := svc.CreateSession()
	busy, _ := svc.CreateSession()
	if err := busy.begin(StageGenerating, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer busy.end(idleProgress)

	if n := svc.sweepSessions(time.Now(), time.Hour); n != 0 {
		t.Errorf("fresh sessions swept: %d", n)
	}

	n := svc.sweepSessions(time.Now().Add(2*time.Hour), time.Hour)
	if n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}
	if _, err := svc.Session(idle.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session should have expired")
	}
	if _, err := svc.Session(busy.ID); err != nil {
		t.Error("busy session must not expire")
	}
}

func TestGenerationProgress_Percent(t *testing.T) {
	tests := []struct {
		p    GenerationProgress
		want int
	}{
		{GenerationProgress{Current: 0, Total: 0}, 0},
		{GenerationProgress{Current: 1, Total: 3}, 33},
		{GenerationProgress{Current: 2, Total: 3}, 67},
		{GenerationProgress{Current: 1, Total: 2}, 50},
		{GenerationProgress{Current: 10, Total: 10}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Errorf("%+v.Percent() = %d, want %d", tt.p, got, tt.want)
		}
	}
}
