package accounts

import (
	"context"
	"errors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Resolve loads an account by id when set, otherwise by code.
func (s *Service) Resolve(ctx context.Context, id int64, code string) (Account, error) {
	return Resolve(ctx, s.repo, id, code)
}

// Resolve is shared with callers holding a transaction-scoped Repository.
func Resolve(ctx context.Context, repo Repository, id int64, code string) (Account, error) {
	switch {
	case id != 0:
		return repo.GetByID(ctx, id)
	case code != "":
		return repo.GetByCode(ctx, code)
	}
	return Account{}, errors.New("accounts: account id or code required")
}
