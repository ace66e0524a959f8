// Package resolver は認証状態とユーザーレコードから遷移先を決定する。
//
// 管理者のメールアドレスに一致するidentityはレコードを参照せずに管理画面へ、
// レコードを持つidentityはダッシュボードへ、レコードを持たないidentityは
// サインアウトさせたうえでログインまたはサインアップ画面へ遷移させる。
// レコードの参照に失敗した場合も同様にサインアウトさせる。
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/mentorbook/internal/model"
)

// State は解決処理の状態を表す。
type State int

const (
	StateUnauthenticated State = iota
	StateChecking
	StateAdmin
	StateRegistered
	StateUnregistered
	StateError
)

// String は状態名を返す。ログとメトリクスのラベルに使う。
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChecking:
		return "checking"
	case StateAdmin:
		return "admin"
	case StateRegistered:
		return "registered"
	case StateUnregistered:
		return "unregistered"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal は状態が終端かどうかを返す。
// 終端に到達した後の認証状態の変化は無視される。
func (s State) Terminal() bool {
	return s == StateAdmin || s == StateRegistered || s == StateUnregistered || s == StateError
}

// Destination は遷移先のルートを表す。
type Destination string

const (
	DestLogin     Destination = "/login"
	DestSignup    Destination = "/signup"
	DestDashboard Destination = "/dashboard"
	DestAdmin     Destination = "/admin"
)

// EntryPoint は解決処理を開始した画面を表す。
// 未登録ユーザーの遷移先の決定に使う。
type EntryPoint string

const (
	EntryLogin  EntryPoint = "login"
	EntrySignup EntryPoint = "signup"
)

// ParseEntryPoint は文字列をEntryPointに変換する。未知の値はEntryLoginになる。
func ParseEntryPoint(s string) EntryPoint {
	if EntryPoint(s) == EntrySignup {
		return EntrySignup
	}
	return EntryLogin
}

// Precedence は管理者かつ登録済みのユーザーの遷移先の優先順位を表す。
type Precedence string

const (
	// PrecedenceAdmin はレコードを参照せず管理画面へ遷移させる（既定）。
	PrecedenceAdmin Precedence = "admin"
	// PrecedenceDashboard はレコードを先に参照し、登録済みならダッシュボードへ遷移させる。
	PrecedenceDashboard Precedence = "dashboard"
)

// ParsePrecedence は文字列をPrecedenceに変換する。
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(s) {
	case "", PrecedenceAdmin:
		return PrecedenceAdmin, nil
	case PrecedenceDashboard:
		return PrecedenceDashboard, nil
	default:
		return "", fmt.Errorf("unknown admin precedence: %q", s)
	}
}

// Outcome は解決結果。
type Outcome struct {
	State       State
	Destination Destination
	Identity    *model.Identity
	Record      *model.UserRecord
}

// AuthStateSource は認証状態の購読元。
type AuthStateSource interface {
	// Subscribe はfnを購読開始時に1回、以後認証状態が変わるたびに呼ぶ。
	Subscribe(ctx context.Context, sessionID string, fn func(*model.Identity)) (unsubscribe func())
}

// RecordFinder はユーザーレコードを検索する。
type RecordFinder interface {
	FindByUID(ctx context.Context, uid string) (*model.UserRecord, error)
}

// SignOuter はセッションを破棄する。
type SignOuter interface {
	SignOut(ctx context.Context, sessionID string) error
}

// Recorder は解決結果を記録する。
type Recorder interface {
	RecordResolution(state string)
}

// Config はResolverの設定。
type Config struct {
	AdminEmail string // 完全一致（大文字小文字を区別する）。空の場合は管理者判定を行わない
	Precedence Precedence
}

// Resolver は認証状態から遷移先を決定する。
type Resolver struct {
	auth     AuthStateSource
	records  RecordFinder
	signOut  SignOuter
	recorder Recorder
	config   Config
}

// New はResolverを生成する。recorderはnilでもよい。
func New(auth AuthStateSource, records RecordFinder, signOut SignOuter, recorder Recorder, config Config) *Resolver {
	if config.Precedence == "" {
		config.Precedence = PrecedenceAdmin
	}
	return &Resolver{
		auth:     auth,
		records:  records,
		signOut:  signOut,
		recorder: recorder,
		config:   config,
	}
}

// Resolve はidentityから遷移先を決定する。
// 未登録またはエラーの場合はセッションをサインアウトさせてから返す。
func (r *Resolver) Resolve(ctx context.Context, sessionID string, entry EntryPoint, identity *model.Identity) Outcome {
	out := r.decide(ctx, entry, identity)
	if requiresSignOut(out.State) {
		r.forceSignOut(ctx, sessionID)
	}
	r.record(out)
	return out
}

// decide はサインアウト等の副作用を伴わずに遷移先を決定する。
func (r *Resolver) decide(ctx context.Context, entry EntryPoint, identity *model.Identity) Outcome {
	// 1. 未認証
	if identity == nil {
		return Outcome{State: StateUnauthenticated, Destination: DestLogin}
	}

	// 2. 管理者はレコードを参照しない
	admin := r.isAdmin(identity)
	if admin && r.config.Precedence == PrecedenceAdmin {
		return Outcome{State: StateAdmin, Destination: DestAdmin, Identity: identity}
	}

	// 3. ユーザーレコードを参照
	rec, err := r.records.FindByUID(ctx, identity.UID)
	if err != nil {
		slog.ErrorContext(ctx, "user record lookup failed",
			slog.String("uid", identity.UID),
			slog.String("error", err.Error()),
		)
		return Outcome{State: StateError, Destination: DestLogin, Identity: identity}
	}

	switch {
	case rec != nil:
		return Outcome{State: StateRegistered, Destination: DestDashboard, Identity: identity, Record: rec}
	case admin:
		return Outcome{State: StateAdmin, Destination: DestAdmin, Identity: identity}
	default:
		dest := DestLogin
		if entry == EntrySignup {
			dest = DestSignup
		}
		slog.InfoContext(ctx, "identity has no user record", slog.String("uid", identity.UID))
		return Outcome{State: StateUnregistered, Destination: dest, Identity: identity}
	}
}

// FailClosed は遷移先を確定できなかったセッションをエラー状態として扱う。
// セッションをサインアウトさせ、ログイン画面への遷移を返す。
func (r *Resolver) FailClosed(ctx context.Context, sessionID string) Outcome {
	slog.WarnContext(ctx, "role resolution did not complete, signing out")
	out := Outcome{State: StateError, Destination: DestLogin}
	r.forceSignOut(ctx, sessionID)
	r.record(out)
	return out
}

// IsAdmin はidentityが管理者かどうかを返す。優先順位の設定には依存しない。
func (r *Resolver) IsAdmin(identity *model.Identity) bool {
	return identity != nil && r.isAdmin(identity)
}

func (r *Resolver) isAdmin(identity *model.Identity) bool {
	return r.config.AdminEmail != "" && identity.Email == r.config.AdminEmail
}

// forceSignOut はベストエフォートでセッションを破棄する。失敗はログに残すのみ。
func (r *Resolver) forceSignOut(ctx context.Context, sessionID string) {
	if sessionID == "" || r.signOut == nil {
		return
	}
	if err := r.signOut.SignOut(context.WithoutCancel(ctx), sessionID); err != nil {
		slog.WarnContext(ctx, "forced sign-out failed", slog.String("error", err.Error()))
	}
}

func (r *Resolver) record(out Outcome) {
	if r.recorder != nil {
		r.recorder.RecordResolution(out.State.String())
	}
}

func requiresSignOut(s State) bool {
	return s == StateUnregistered || s == StateError
}
