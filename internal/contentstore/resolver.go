package contentstore

import (
	"context"
	"fmt"

	"github.com/hitoshi/tradeguard/internal/model"
)

// ContentFetcher は出品・メッセージの取得元。
type ContentFetcher interface {
	Fetch(ctx context.Context, targetType model.TargetType, targetID string) (*Content, error)
}

// UserFinder はユーザーの取得元。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Resolver は通報・措置の対象を解決する。
// ユーザーはusersテーブルから、出品・メッセージはコンテンツサービスから取得する。
type Resolver struct {
	users   UserFinder
	content ContentFetcher
}

// NewResolver はResolverを生成する。
func NewResolver(users UserFinder, content ContentFetcher) *Resolver {
	return &Resolver{users: users, content: content}
}

// Resolve は対象を解決する。存在しない場合はnilを返す。
func (r *Resolver) Resolve(ctx context.Context, targetType model.TargetType, targetID string) (*model.Target, error) {
	if targetID == "" {
		return nil, nil
	}
	switch targetType {
	case model.TargetTypeUser:
		u, err := r.users.FindByID(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if u == nil {
			return nil, nil
		}
		return &model.Target{Type: targetType, ID: u.ID, OwnerID: u.ID, Snippet: u.Name}, nil

	case model.TargetTypeListing, model.TargetTypeMessage:
		c, err := r.content.Fetch(ctx, targetType, targetID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		return &model.Target{
			Type:    targetType,
			ID:      targetID,
			OwnerID: c.OwnerID,
			Snippet: Snippet(c.Title, c.Body),
		}, nil
	}
	return nil, fmt.Errorf("unknown target type: %s", targetType)
}
