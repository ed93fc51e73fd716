package api

import (
	"context"

	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/session"
)

// UserBackend はClientをsession.Backend[model.User, model.LoginCredentials]に適合させる。
type UserBackend struct {
	client *Client
}

// NewUserBackend はUserBackendを生成する。
func NewUserBackend(client *Client) *UserBackend {
	return &UserBackend{client: client}
}

func (b *UserBackend) Login(ctx context.Context, creds model.LoginCredentials) (*session.AuthResult[model.User], error) {
	env, err := b.client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &session.AuthResult[model.User]{Token: env.Token, Profile: env.User}, nil
}

// Register はsession.Registrarを実装する。
func (b *UserBackend) Register(ctx context.Context, data model.RegisterData) (*session.AuthResult[model.User], error) {
	env, err := b.client.Register(ctx, data)
	if err != nil {
		return nil, err
	}
	return &session.AuthResult[model.User]{Token: env.Token, Profile: env.User}, nil
}

func (b *UserBackend) FetchProfile(ctx context.Context, token string) (*model.User, error) {
	env, err := b.client.GetProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, model.NewAPIRejectedError("profile missing from response")
	}
	return env.User, nil
}

func (b *UserBackend) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error) {
	env, err := b.client.UpdateProfile(ctx, token, update)
	if err != nil {
		return nil, err
	}
	return env.User, nil
}

func (b *UserBackend) ChangePassword(ctx context.Context, token string, change model.PasswordChange) error {
	_, err := b.client.ChangePassword(ctx, token, change)
	return err
}

// AdminBackend はClientをsession.Backend[model.Admin, model.AdminCredentials]に適合させる。
type AdminBackend struct {
	client *Client
}

// NewAdminBackend はAdminBackendを生成する。
func NewAdminBackend(client *Client) *AdminBackend {
	return &AdminBackend{client: client}
}

func (b *AdminBackend) Login(ctx context.Context, creds model.AdminCredentials) (*session.AuthResult[model.Admin], error) {
	env, err := b.client.AdminLogin(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &session.AuthResult[model.Admin]{Token: env.Token, Profile: env.Admin}, nil
}

func (b *AdminBackend) FetchProfile(ctx context.Context, token string) (*model.Admin, error) {
	env, err := b.client.GetAdminProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	if env.Admin == nil {
		return nil, model.NewAPIRejectedError("admin profile missing from response")
	}
	return env.Admin, nil
}

func (b *AdminBackend) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.Admin, error) {
	env, err := b.client.UpdateAdminProfile(ctx, token, update)
	if err != nil {
		return nil, err
	}
	return env.Admin, nil
}

func (b *AdminBackend) ChangePassword(ctx context.Context, token string, change model.PasswordChange) error {
	_, err := b.client.ChangeAdminPassword(ctx, token, change)
	return err
}

var (
	_ session.Backend[model.User, model.LoginCredentials]  = (*UserBackend)(nil)
	_ session.Registrar[model.User]                        = (*UserBackend)(nil)
	_ session.Backend[model.Admin, model.AdminCredentials] = (*AdminBackend)(nil)
)
