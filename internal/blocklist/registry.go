// Package blocklist は運用者定義のブロックワードのキャッシュ付きレジストリを提供する。
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/tradeguard/internal/content"
	"github.com/hitoshi/tradeguard/internal/model"
)

const (
	// DefaultTTL はキャッシュの既定の有効期間。
	DefaultTTL = time.Hour

	maxReasonLength   = 500
	backgroundTimeout = 10 * time.Second
	maxSyncAttempts   = 3
)

// Store はレジストリが利用するブロックワードの永続化先。
type Store interface {
	ListActive(ctx context.Context) ([]*model.BlockedWord, error)
	List(ctx context.Context) ([]*model.BlockedWord, error)
	Upsert(ctx context.Context, word *model.BlockedWord) (*model.BlockedWord, error)
	InsertIfAbsent(ctx context.Context, word *model.BlockedWord) (bool, error)
	Deactivate(ctx context.Context, word string) (bool, error)
}

// Recorder はキャッシュ再読み込みのメトリクス記録先。
type Recorder interface {
	RecordBlocklistReload(success bool)
	SetBlocklistSize(n int)
}

// snapshot は公開済みのブロックワード集合。公開後は変更しない。
type snapshot struct {
	words    map[string]*model.BlockedWord
	loadedAt time.Time
	version  uint64
}

// Registry は有効なブロックワードをTTL付きでキャッシュする。
// 読み取りはatomicに公開されたスナップショットを参照し、再読み込みはsingleflightで1本化する。
// 書き込みのたびにバージョンを進め、古いバージョンで読み込んだスナップショットは公開しない。
type Registry struct {
	store   Store
	ttl     time.Duration
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time

	current    atomic.Pointer[snapshot]
	version    atomic.Uint64
	refreshing atomic.Bool
	group      singleflight.Group
}

// NewRegistry はRegistryを生成する。ttlが0以下の場合はDefaultTTLを使う。metricsはnilでもよい。
func NewRegistry(store Store, ttl time.Duration, metrics Recorder, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Get は有効なブロックワードを正規化済みの語をキーとして返す。返したマップは変更してはならない。
// 書き込み後の最初の読み取りは同期的に再読み込みする。TTL切れの場合は直前のスナップショットを返しつつ
// バックグラウンドで再読み込みする。
func (r *Registry) Get(ctx context.Context) (map[string]*model.BlockedWord, error) {
	snap := r.current.Load()
	if snap != nil && snap.version == r.version.Load() {
		if r.now().Sub(snap.loadedAt) >= r.ttl {
			r.refreshAsync()
		}
		return snap.words, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxSyncAttempts; attempt++ {
		loaded, err := r.reload(ctx)
		if err != nil {
			lastErr = err
			break
		}
		if loaded.version == r.version.Load() {
			return loaded.words, nil
		}
	}

	if snap != nil {
		if lastErr != nil {
			r.logger.Warn("ブロックワードの再読み込みに失敗したため直前のスナップショットを使用します",
				slog.String("error", lastErr.Error()),
			)
		}
		if latest := r.current.Load(); latest != nil {
			return latest.words, nil
		}
		return snap.words, nil
	}
	if lastErr == nil {
		lastErr = errors.New("blocklist: snapshot kept changing during reload")
	}
	return nil, lastErr
}

// Add はブロックワードを登録し、キャッシュを同期的に無効化する。
// 無効化済みの語を再登録した場合は再有効化し、属性を上書きする。
func (r *Registry) Add(ctx context.Context, word string, category model.BlockedWordCategory, severity model.WordSeverity, reason, actorID string) (*model.BlockedWord, error) {
	normalized, err := NormalizeWord(word)
	if err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid category: %q", category))
	}
	if severity == "" {
		severity = model.WordSeverityHigh
	}
	if !severity.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid severity: %q", severity))
	}
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) > maxReasonLength {
		return nil, model.NewValidationError(fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}

	now := r.now()
	saved, err := r.store.Upsert(ctx, &model.BlockedWord{
		ID:        uuid.New().String(),
		Word:      normalized,
		Category:  category,
		Severity:  severity,
		Reason:    reason,
		Active:    true,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save blocked word: %w", err)
	}
	r.Invalidate(ctx)

	r.logger.Info("blocked word added",
		slog.String("word", normalized),
		slog.String("category", string(category)),
		slog.String("severity", string(severity)),
		slog.String("actor_id", actorID),
	)
	return saved, nil
}

// Remove はブロックワードを無効化し、キャッシュを同期的に無効化する。
// 有効な語として登録されていない場合はBLOCKED_WORD_NOT_FOUNDを返す。
func (r *Registry) Remove(ctx context.Context, word string) error {
	normalized := content.NormalizeToken(strings.TrimSpace(word))
	if normalized == "" {
		return model.NewBlockedWordNotFoundError(word)
	}
	ok, err := r.store.Deactivate(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to deactivate blocked word: %w", err)
	}
	if !ok {
		return model.NewBlockedWordNotFoundError(normalized)
	}
	r.Invalidate(ctx)

	r.logger.Info("blocked word removed", slog.String("word", normalized))
	return nil
}

// Import は未登録の語のみをまとめて登録し、追加した件数を返す。
// 運用者が無効化した語は再有効化しない。
func (r *Registry) Import(ctx context.Context, words []*model.BlockedWord) (int, error) {
	added := 0
	now := r.now()
	for _, w := range words {
		normalized, err := NormalizeWord(w.Word)
		if err != nil || !w.Category.Valid() || !w.Severity.Valid() {
			r.logger.Debug("skipping invalid blocked word",
				slog.String("word", w.Word),
			)
			continue
		}
		ok, err := r.store.InsertIfAbsent(ctx, &model.BlockedWord{
			ID:        uuid.New().String(),
			Word:      normalized,
			Category:  w.Category,
			Severity:  w.Severity,
			Reason:    w.Reason,
			Active:    true,
			CreatedBy: w.CreatedBy,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			if added > 0 {
				r.Invalidate(ctx)
			}
			return added, fmt.Errorf("failed to import blocked word %q: %w", normalized, err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		r.Invalidate(ctx)
	}
	return added, nil
}

// List は無効化済みを含む全ブロックワードを返す。
func (r *Registry) List(ctx context.Context) ([]*model.BlockedWord, error) {
	words, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked words: %w", err)
	}
	if words == nil {
		words = []*model.BlockedWord{}
	}
	return words, nil
}

// Invalidate はバージョンを進めて現在のスナップショットを無効化し、再読み込みを試みる。
// 再読み込みに失敗しても次回のGetで再試行される。
func (r *Registry) Invalidate(ctx context.Context) {
	r.version.Add(1)
	if _, err := r.reload(ctx); err != nil {
		r.logger.Warn("ブロックワードの再読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// reload はストアから有効な語を読み込み、読み込み中にバージョンが進んでいなければ公開する。
func (r *Registry) reload(ctx context.Context) (*snapshot, error) {
	v, err, _ := r.group.Do("reload", func() (any, error) {
		ver := r.version.Load()
		words, err := r.store.ListActive(ctx)
		if err != nil {
			r.recordReload(false, 0)
			return nil, fmt.Errorf("failed to load active blocked words: %w", err)
		}

		index := make(map[string]*model.BlockedWord, len(words))
		for _, w := range words {
			index[w.Word] = w
		}
		snap := &snapshot{words: index, loadedAt: r.now(), version: ver}
		r.publish(snap)
		r.recordReload(true, len(index))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// publish はスナップショットを公開する。より新しいバージョンが公開済み、
// または読み込み中に無効化された場合は公開しない。
func (r *Registry) publish(snap *snapshot) {
	for {
		if snap.version != r.version.Load() {
			return
		}
		old := r.current.Load()
		if old != nil && old.version > snap.version {
			return
		}
		if r.current.CompareAndSwap(old, snap) {
			return
		}
	}
}

func (r *Registry) refreshAsync() {
	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if _, err := r.reload(ctx); err != nil {
			r.logger.Warn("ブロックワードのバックグラウンド再読み込みに失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (r *Registry) recordReload(success bool, size int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordBlocklistReload(success)
	if success {
		r.metrics.SetBlocklistSize(size)
	}
}

// NormalizeWord は登録用に語を正規化する。
// 照合はトークン単位で行うため、空白を含む語や正規化後に空になる語は受け付けない。
func NormalizeWord(word string) (string, error) {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return "", model.NewValidationError("word is required")
	}
	if strings.ContainsFunc(trimmed, unicode.IsSpace) {
		return "", model.NewValidationError("word must be a single token without whitespace")
	}
	normalized := content.NormalizeToken(trimmed)
	if normalized == "" {
		return "", model.NewValidationError("word must contain letters or numbers")
	}
	return normalized, nil
}
