// Package session はユーザーおよび管理者のセッションストアを提供する。
//
// ストアは Unresolved → Authenticated | Unauthenticated の3状態を持つ。
// 資格情報とプロフィールのスナップショットはKVに永続化され、再読み込み時に
// 外部APIへの検証（validation round-trip）で状態を復元する。
// 非同期呼び出しの結果は世代番号で照合し、ログアウト後に届いた古い応答で
// セッションが復活しないようにする。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/civicportal/internal/metrics"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/storage"
	"github.com/hitoshi/civicportal/internal/validation"
)

var (
	// ErrDisposed は破棄済みストアに対する操作で返される。
	ErrDisposed = errors.New("session store disposed")
	// ErrSuperseded は応答到着前にログアウト等の後続操作が行われ、結果を破棄した場合に返される。
	ErrSuperseded = errors.New("session operation superseded")
)

// State はセッションの解決状態。
type State int

const (
	// StateUnresolved は初期検証中（loading）を表す。
	StateUnresolved State = iota
	// StateAuthenticated は有効な資格情報とプロフィールを保持している状態。
	StateAuthenticated
	// StateUnauthenticated は資格情報がない、または検証に失敗した状態。
	StateUnauthenticated
)

// String はメトリクスラベルおよびログ用の文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AuthResult はログイン・登録の応答。Tokenが空の場合は認証状態に遷移しない。
type AuthResult[P any] struct {
	Token   string
	Profile *P
}

// Backend はセッションストアが依存する外部APIの呼び出し形。
type Backend[P any, C any] interface {
	Login(ctx context.Context, creds C) (*AuthResult[P], error)
	FetchProfile(ctx context.Context, token string) (*P, error)
	UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*P, error)
	ChangePassword(ctx context.Context, token string, change model.PasswordChange) error
}

// Registrar は新規登録を提供するバックエンド。
type Registrar[P any] interface {
	Register(ctx context.Context, data model.RegisterData) (*AuthResult[P], error)
}

// Snapshot はストア状態の読み取り専用コピー。
// Profile/Pendingは呼び出しごとに複製されるため、変更してもストアには影響しない。
type Snapshot[P any] struct {
	State      State
	Token      string
	Profile    *P
	Pending    *P
	Generation uint64
}

// IsAuthenticated は検証済みのtokenとprofileが両方存在する場合にtrueを返す。
func (s Snapshot[P]) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.Token != "" && s.Profile != nil
}

// Loading は初期検証が未完了の場合にtrueを返す。
func (s Snapshot[P]) Loading() bool {
	return s.State == StateUnresolved
}

// Keys は永続化に使用するKVキーの組。
type Keys struct {
	Token   string
	Profile string
}

// Options はストアの設定。
type Options[C any] struct {
	Role    string        // "user" または "admin"。ログとメトリクスのラベル
	Keys    Keys          // 永続化キー
	Timeout time.Duration // 外部API呼び出し1回あたりの上限時間
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
	// Validate はログイン入力の事前検証。nilの場合は検証しない。
	Validate func(C) *model.APIError
	// Now はトークン有効期限判定に使う現在時刻。テスト用に差し替え可能。
	Now func() time.Time
}

// Store は1種類のプリンシパル（ユーザーまたは管理者）のセッションストア。
// 全メソッドはgoroutineセーフ。外部API呼び出し中はロックを保持しない。
type Store[P any, C any] struct {
	backend Backend[P, C]
	kv      storage.KV
	opts    Options[C]

	mu       sync.Mutex
	state    State
	token    string
	profile  *P
	pending  *P
	gen      uint64
	disposed bool
	subs     map[int]func(Snapshot[P])
	nextSub  int
}

// NewStore はStoreを生成する。初期状態はStateUnresolved。
func NewStore[P any, C any](backend Backend[P, C], kv storage.KV, opts Options[C]) *Store[P, C] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = opts.Logger.With(slog.String("role", opts.Role))

	return &Store[P, C]{
		backend: backend,
		kv:      kv,
		opts:    opts,
		state:   StateUnresolved,
		subs:    make(map[int]func(Snapshot[P])),
	}
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store[P, C]) Snapshot() Snapshot[P] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe は状態遷移ごとに呼ばれるコールバックを登録し、登録解除関数を返す。
// コールバックはストアのロック外で呼ばれる。
func (s *Store[P, C]) Subscribe(fn func(Snapshot[P])) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Init は永続化された資格情報を検証し、StateAuthenticatedまたはStateUnauthenticatedに確定させる。
// 検証の失敗は呼び出し元に返さず、資格情報を消去して未認証とする。
func (s *Store[P, C]) Init(ctx context.Context) {
	s.BeginInit()(ctx)
}

// BeginInit は初期検証の世代を同期的に確保してStateUnresolvedに戻し、検証を実行する関数を返す。
// BeginInitの後に開始されたログイン等の操作は、返された関数の検証結果より優先される。
func (s *Store[P, C]) BeginInit() func(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return func(context.Context) {}
	}
	s.gen++
	gen := s.gen
	s.state = StateUnresolved
	return func(ctx context.Context) {
		s.resolvePersisted(ctx, gen, "init")
	}
}

// resolvePersisted は永続化された資格情報を世代genの結果として検証する。
func (s *Store[P, C]) resolvePersisted(ctx context.Context, gen uint64, op string) {
	token, ok, err := s.kv.Get(ctx, s.opts.Keys.Token)
	if err != nil {
		s.opts.Logger.Warn("failed to read persisted credential", slog.String("error", err.Error()))
	}
	if err != nil || !ok || token == "" {
		s.resolveUnauthenticated(ctx, gen, op, false)
		return
	}

	if tokenExpired(token, s.opts.Now()) {
		s.opts.Logger.Debug("persisted credential expired")
		s.resolveUnauthenticated(ctx, gen, op, true)
		return
	}

	s.validate(ctx, gen, token, op)
}

// Refresh は認証済みセッションを再検証する。検証に失敗した場合はStateUnauthenticatedに遷移する。
func (s *Store[P, C]) Refresh(ctx context.Context) {
	s.mu.Lock()
	if s.disposed || s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	token := s.token
	s.mu.Unlock()

	s.validate(ctx, gen, token, "refresh")
}

func (s *Store[P, C]) validate(ctx context.Context, gen uint64, token, op string) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	profile, err := s.backend.FetchProfile(callCtx, token)
	if err != nil || profile == nil {
		if err != nil {
			s.opts.Logger.Debug("credential validation failed",
				slog.String("operation", op),
				slog.String("error", err.Error()),
			)
		}
		s.resolveUnauthenticated(ctx, gen, op, true)
		return
	}

	s.apply(gen, op, func() {
		s.persistLocked(ctx, token, profile)
		s.state = StateAuthenticated
		s.token = token
		s.profile = clone(profile)
		s.pending = nil
	})
}

// resolveUnauthenticated は世代が一致する場合に限りStateUnauthenticatedへ遷移する。
func (s *Store[P, C]) resolveUnauthenticated(ctx context.Context, gen uint64, op string, clearStorage bool) {
	s.apply(gen, op, func() {
		if clearStorage {
			s.clearLocked(ctx)
		}
		s.state = StateUnauthenticated
		s.token = ""
		s.profile = nil
	})
}

// Login は入力を検証したうえで外部APIにログインを要求する。
// 成功時は資格情報とプロフィールを永続化してStateAuthenticatedに遷移し、プロフィールを返す。
// 失敗時は状態を変更せず、UI表示用のメッセージを持つエラーを返す。
func (s *Store[P, C]) Login(ctx context.Context, creds C) (*P, error) {
	if s.opts.Validate != nil {
		if verr := s.opts.Validate(creds); verr != nil {
			return nil, verr
		}
	}

	gen, err := s.begin()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.backend.Login(callCtx, creds)
	if err != nil {
		s.concludeSuperseded(ctx, gen, "login")
		return nil, err
	}
	if res == nil || res.Token == "" || res.Profile == nil {
		s.concludeSuperseded(ctx, gen, "login")
		return nil, model.NewAuthFailedError("")
	}

	if !s.adopt(ctx, gen, "login", res) {
		return nil, ErrSuperseded
	}
	return clone(res.Profile), nil
}

// Logout は永続化された資格情報とプロフィールを同期的に消去し、StateUnauthenticatedに遷移する。
// ネットワーク状態に関係なくローカルでは常に成功する。戻り値はストレージ消去の失敗のみを表す。
func (s *Store[P, C]) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	err := s.clearLocked(ctx)
	s.state = StateUnauthenticated
	s.token = ""
	s.profile = nil
	s.pending = nil
	snap, subs := s.snapshotLocked(), s.subscribersLocked()
	s.mu.Unlock()

	s.opts.Metrics.RecordSessionTransition(s.opts.Role, StateUnauthenticated.String())
	s.opts.Logger.Info("session logged out")
	notify(subs, snap)
	return err
}

// UpdateProfile はプロフィール更新を外部APIに転送する。
// 成功時は永続化されたプロフィールスナップショットを更新する。セッション状態は変化しない。
func (s *Store[P, C]) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*P, error) {
	if verr := validation.ProfileUpdate(update); verr != nil {
		return nil, verr
	}
	token, gen, err := s.authenticatedToken()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	profile, err := s.backend.UpdateProfile(callCtx, token, update)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, model.NewAPIRejectedError("profile missing from response")
	}

	s.mu.Lock()
	if s.gen == gen && s.state == StateAuthenticated && s.token == token {
		if data, merr := json.Marshal(profile); merr == nil {
			if perr := s.kv.Set(ctx, s.opts.Keys.Profile, string(data)); perr != nil {
				s.opts.Logger.Error("failed to persist profile snapshot", slog.String("error", perr.Error()))
			}
		}
		s.profile = clone(profile)
		snap, subs := s.snapshotLocked(), s.subscribersLocked()
		s.mu.Unlock()
		notify(subs, snap)
	} else {
		s.mu.Unlock()
		s.opts.Metrics.RecordStaleResult(s.opts.Role, "update_profile")
	}

	return clone(profile), nil
}

// ChangePassword はパスワード変更を外部APIに転送する。セッション状態は変化しない。
func (s *Store[P, C]) ChangePassword(ctx context.Context, change model.PasswordChange) error {
	if verr := validation.PasswordChange(change); verr != nil {
		return verr
	}
	token, _, err := s.authenticatedToken()
	if err != nil {
		return err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.backend.ChangePassword(callCtx, token, change)
}

// Dispose は購読者を解除し、実行中の非同期結果を破棄させる。永続化データは変更しない。
func (s *Store[P, C]) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.gen++
	s.subs = make(map[int]func(Snapshot[P]))
}

// begin はユーザー操作の開始時に世代を進め、実行中の検証結果を無効化する。
func (s *Store[P, C]) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0, ErrDisposed
	}
	s.gen++
	return s.gen, nil
}

// adopt はログイン・登録の成功結果を世代が一致する場合に限り反映する。
func (s *Store[P, C]) adopt(ctx context.Context, gen uint64, op string, res *AuthResult[P]) bool {
	return s.apply(gen, op, func() {
		s.persistLocked(ctx, res.Token, res.Profile)
		s.state = StateAuthenticated
		s.token = res.Token
		s.profile = clone(res.Profile)
		s.pending = nil
	})
}

// concludeSuperseded は失敗したユーザー操作が初期検証を無効化していた場合に、
// 永続化された資格情報をその操作の世代で検証し直す。それ以外の状態は変更しない。
// 呼び出し元のリクエストが切断されても検証を完了させるため、キャンセルは引き継がない。
func (s *Store[P, C]) concludeSuperseded(ctx context.Context, gen uint64, op string) {
	s.mu.Lock()
	unresolved := s.gen == gen && s.state == StateUnresolved
	s.mu.Unlock()
	if unresolved {
		s.resolvePersisted(context.WithoutCancel(ctx), gen, op)
	}
}

// apply は世代が一致する場合に限りmutateをロック下で実行し、購読者に通知する。
// 反映した場合は世代を進め、同時に実行中の他の結果を無効化する。
func (s *Store[P, C]) apply(gen uint64, op string, mutate func()) bool {
	s.mu.Lock()
	if s.disposed || s.gen != gen {
		s.mu.Unlock()
		s.opts.Metrics.RecordStaleResult(s.opts.Role, op)
		s.opts.Logger.Debug("discarded stale result", slog.String("operation", op))
		return false
	}
	mutate()
	s.gen++
	state := s.state
	snap, subs := s.snapshotLocked(), s.subscribersLocked()
	s.mu.Unlock()

	s.opts.Metrics.RecordSessionTransition(s.opts.Role, state.String())
	notify(subs, snap)
	return true
}

func (s *Store[P, C]) authenticatedToken() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return "", 0, ErrDisposed
	}
	if s.state != StateAuthenticated || s.token == "" {
		return "", 0, model.NewSessionRequiredError()
	}
	return s.token, s.gen, nil
}

// persistLocked は資格情報とプロフィールを永続化する。ロック保持中に呼ぶこと。
// 書き込み失敗はログに記録し、メモリ上の状態遷移は継続する。
func (s *Store[P, C]) persistLocked(ctx context.Context, token string, profile *P) {
	if err := s.kv.Set(ctx, s.opts.Keys.Token, token); err != nil {
		s.opts.Logger.Error("failed to persist credential", slog.String("error", err.Error()))
	}
	data, err := json.Marshal(profile)
	if err != nil {
		s.opts.Logger.Error("failed to encode profile snapshot", slog.String("error", err.Error()))
		return
	}
	if err := s.kv.Set(ctx, s.opts.Keys.Profile, string(data)); err != nil {
		s.opts.Logger.Error("failed to persist profile snapshot", slog.String("error", err.Error()))
	}
}

// clearLocked は永続化された資格情報とプロフィールを消去する。ロック保持中に呼ぶこと。
func (s *Store[P, C]) clearLocked(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.opts.Keys.Token, s.opts.Keys.Profile); err != nil {
		s.opts.Logger.Error("failed to clear persisted session", slog.String("error", err.Error()))
		return fmt.Errorf("failed to clear persisted session: %w", err)
	}
	return nil
}

func (s *Store[P, C]) snapshotLocked() Snapshot[P] {
	return Snapshot[P]{
		State:      s.state,
		Token:      s.token,
		Profile:    clone(s.profile),
		Pending:    clone(s.pending),
		Generation: s.gen,
	}
}

func (s *Store[P, C]) subscribersLocked() []func(Snapshot[P]) {
	subs := make([]func(Snapshot[P]), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store[P, C]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func notify[P any](subs []func(Snapshot[P]), snap Snapshot[P]) {
	for _, fn := range subs {
		fn(snap)
	}
}

func clone[P any](p *P) *P {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
