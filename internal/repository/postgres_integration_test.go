package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hitoshi/tradeguard/internal/database"
	"github.com/hitoshi/tradeguard/internal/model"
)

// setupIntegrationDB はマイグレーション済みのテスト用DBを返す。
// TEST_DATABASE_URLに接続できない場合はスキップする。
func setupIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE appeals, flags, moderation_actions, blocked_words, sessions, users CASCADE`); err != nil {
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUser(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	id := uuid.New().String()
	if _, err := db.Exec(`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`, id, id+"@example.com", name); err != nil {
		t.Fatalf("ユーザー挿入に失敗: %v", err)
	}
	return id
}

func TestIntegration_FlagCreate_DuplicatePendingReturnsErrDuplicate(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	repo := NewPostgresFlagRepo(db)
	reporter := insertUser(t, db, "reporter")

	newFlag := func() *model.Flag {
		return &model.Flag{
			ID: uuid.New().String(), ReporterID: reporter,
			TargetType: model.TargetTypeListing, TargetID: "L1",
			Reason: model.FlagReasonSpam, Description: "spam",
			Status: model.FlagStatusPending, Source: model.FlagSourceManual,
			CreatedAt: time.Now(),
		}
	}

	first := newFlag()
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("1件目の作成に失敗: %v", err)
	}
	if err := repo.Create(ctx, newFlag()); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// 却下後は同じ対象に再通報できる
	if err := repo.Dismiss(ctx, first.ID, reporter, time.Now()); err != nil {
		t.Fatalf("却下に失敗: %v", err)
	}
	if err := repo.Dismiss(ctx, first.ID, reporter, time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second dismiss, got %v", err)
	}
	if err := repo.Create(ctx, newFlag()); err != nil {
		t.Fatalf("却下後の再通報に失敗: %v", err)
	}
}

func TestIntegration_RecordWithUphold_IsAtomic(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	flags := NewPostgresFlagRepo(db)
	actions := NewPostgresModerationActionRepo(db)
	moderator := insertUser(t, db, "moderator")
	subject := insertUser(t, db, "subject")

	flag := &model.Flag{
		ID: uuid.New().String(), ReporterID: moderator,
		TargetType: model.TargetTypeUser, TargetID: subject,
		Reason: model.FlagReasonHarassment, Description: "rude",
		Status: model.FlagStatusPending, Source: model.FlagSourceManual,
		CreatedAt: time.Now(),
	}
	if err := flags.Create(ctx, flag); err != nil {
		t.Fatalf("通報作成に失敗: %v", err)
	}

	newAction := func() *model.ModerationAction {
		fid := flag.ID
		return &model.ModerationAction{
			ID: uuid.New().String(), ModeratorID: moderator,
			TargetType: model.TargetTypeUser, TargetID: subject, SubjectUserID: subject,
			ActionType: model.ActionTypeWarning, Reason: "be nice",
			FlagID: &fid, CreatedAt: time.Now(),
		}
	}
	uphold := &model.FlagUphold{FlagID: flag.ID, ReviewerID: moderator, ReviewedAt: time.Now()}

	state, err := actions.Record(ctx, newAction(), model.SanctionChange{WarningDelta: 1}, uphold)
	if err != nil {
		t.Fatalf("措置記録に失敗: %v", err)
	}
	if state.WarningCount != 1 {
		t.Errorf("WarningCount = %d, want 1", state.WarningCount)
	}

	// 2回目の認容は通報が審査済みのためロールバックされる
	if _, err := actions.Record(ctx, newAction(), model.SanctionChange{WarningDelta: 1}, uphold); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}

	user, err := NewPostgresUserRepo(db).FindByID(ctx, subject)
	if err != nil {
		t.Fatalf("ユーザー取得に失敗: %v", err)
	}
	if user.WarningCount != 1 {
		t.Errorf("ロールバック後のWarningCount = %d, want 1", user.WarningCount)
	}
	history, err := actions.ListBySubject(ctx, subject, 10)
	if err != nil {
		t.Fatalf("履歴取得に失敗: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history len = %d, want 1", len(history))
	}
}

func TestIntegration_AppealResolve_ReversesBan(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	actions := NewPostgresModerationActionRepo(db)
	appeals := NewPostgresAppealRepo(db)
	users := NewPostgresUserRepo(db)
	moderator := insertUser(t, db, "moderator")
	subject := insertUser(t, db, "subject")

	action := &model.ModerationAction{
		ID: uuid.New().String(), ModeratorID: moderator,
		TargetType: model.TargetTypeUser, TargetID: subject, SubjectUserID: subject,
		ActionType: model.ActionTypePermanentBan, Reason: "fraud", CreatedAt: time.Now(),
	}
	if _, err := actions.Record(ctx, action, model.SanctionChange{SetBan: true}, nil); err != nil {
		t.Fatalf("措置記録に失敗: %v", err)
	}

	appeal := &model.Appeal{
		ID: uuid.New().String(), UserID: subject, ModerationActionID: action.ID,
		Reason: "mistake", Status: model.AppealStatusPending, SubmittedAt: time.Now(),
	}
	if err := appeals.Create(ctx, appeal); err != nil {
		t.Fatalf("異議申し立て作成に失敗: %v", err)
	}
	dup := *appeal
	dup.ID = uuid.New().String()
	if err := appeals.Create(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	now := time.Now()
	appeal.Status = model.AppealStatusApproved
	appeal.ReverseAction = true
	appeal.ReviewedAt = &now
	appeal.ReviewedBy = &moderator
	if err := appeals.Resolve(ctx, appeal, subject, &model.SanctionChange{ClearBan: true}); err != nil {
		t.Fatalf("異議申し立て確定に失敗: %v", err)
	}
	if err := appeals.Resolve(ctx, appeal, subject, &model.SanctionChange{ClearBan: true}); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}

	user, err := users.FindByID(ctx, subject)
	if err != nil {
		t.Fatalf("ユーザー取得に失敗: %v", err)
	}
	if user.IsBanned {
		t.Error("expected ban to be cleared")
	}
}

func TestIntegration_BlockedWordUpsertAndDeactivate(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	repo := NewPostgresBlockedWordRepo(db)

	w := &model.BlockedWord{
		ID: uuid.New().String(), Word: "wiretransfer", Category: model.BlockedWordCategoryFraud,
		Severity: model.WordSeverityHigh, CreatedAt: time.Now(),
	}
	if _, err := repo.Upsert(ctx, w); err != nil {
		t.Fatalf("登録に失敗: %v", err)
	}
	ok, err := repo.Deactivate(ctx, "wiretransfer")
	if err != nil || !ok {
		t.Fatalf("無効化に失敗: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.Deactivate(ctx, "wiretransfer"); ok {
		t.Error("無効化済みの語の再無効化はfalseを返すべき")
	}

	// 無効化済みの語はInsertIfAbsentでは再有効化されない
	added, err := repo.InsertIfAbsent(ctx, &model.BlockedWord{
		ID: uuid.New().String(), Word: "wiretransfer", Category: model.BlockedWordCategoryFraud,
		Severity: model.WordSeverityHigh, CreatedAt: time.Now(),
	})
	if err != nil || added {
		t.Fatalf("InsertIfAbsent: added=%v err=%v", added, err)
	}
	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("一覧取得に失敗: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active len = %d, want 0", len(active))
	}

	// Upsertは再有効化する
	w.ID = uuid.New().String()
	saved, err := repo.Upsert(ctx, w)
	if err != nil {
		t.Fatalf("再登録に失敗: %v", err)
	}
	if !saved.Active {
		t.Error("expected reactivated word")
	}
}

func TestIntegration_ModerationStats_CountsWindowAndActiveBans(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	flags := NewPostgresFlagRepo(db)
	actions := NewPostgresModerationActionRepo(db)
	moderator := insertUser(t, db, "moderator")
	reporter := insertUser(t, db, "reporter")
	banned := insertUser(t, db, "banned")
	expired := insertUser(t, db, "expired")

	for _, target := range []string{banned, expired} {
		if err := flags.Create(ctx, &model.Flag{
			ID: uuid.New().String(), ReporterID: reporter,
			TargetType: model.TargetTypeUser, TargetID: target,
			Reason: model.FlagReasonFraud, Status: model.FlagStatusPending,
			Source: model.FlagSourceManual, CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("通報作成に失敗: %v", err)
		}
	}

	record := func(subject string, actionType model.ActionType, until *time.Time) {
		t.Helper()
		_, err := actions.Record(ctx, &model.ModerationAction{
			ID: uuid.New().String(), ModeratorID: moderator,
			TargetType: model.TargetTypeUser, TargetID: subject, SubjectUserID: subject,
			ActionType: actionType, Reason: "stats", CreatedAt: time.Now(),
		}, model.SanctionChange{SetBan: true, BannedUntil: until}, nil)
		if err != nil {
			t.Fatalf("措置記録に失敗: %v", err)
		}
	}
	record(banned, model.ActionTypePermanentBan, nil)
	past := time.Now().Add(-time.Hour)
	record(expired, model.ActionTypeTemporaryBan, &past)

	stats, err := NewPostgresStatsRepo(db).ModerationStats(ctx, time.Now().Add(-24*time.Hour), 1)
	if err != nil {
		t.Fatalf("統計取得に失敗: %v", err)
	}
	if stats.PendingFlags != 2 {
		t.Errorf("PendingFlags = %d, want 2", stats.PendingFlags)
	}
	if stats.ActiveBans != 1 {
		t.Errorf("ActiveBans = %d, want 1 (期限切れの一時BANは除外)", stats.ActiveBans)
	}
	if stats.ActionsByType[model.ActionTypePermanentBan] != 1 || stats.ActionsByType[model.ActionTypeTemporaryBan] != 1 {
		t.Errorf("ActionsByType = %v", stats.ActionsByType)
	}
	if stats.RecentFlagCount != 2 {
		t.Errorf("RecentFlagCount = %d, want 2", stats.RecentFlagCount)
	}
	if len(stats.RecentFlags) != 1 {
		t.Errorf("RecentFlags len = %d, want 1 (limit)", len(stats.RecentFlags))
	}
}
