package machines

import (
	"context"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/repository"
	"go.uber.org/zap"
)

type MachineUseCase interface {
	List(ctx context.Context) ([]domain.Machine, error)
	GetByID(ctx context.Context, id string) (*domain.Machine, error)
}

// MachineCache holds the catalogue listing. A nil slice with nil error is a miss.
type MachineCache interface {
	GetMachines(ctx context.Context) ([]domain.Machine, error)
	SetMachines(ctx context.Context, machines []domain.Machine) error
}

type MachineService struct {
	repo  repository.MachineRepository
	cache MachineCache
	log   *zap.Logger
}

func NewMachineService(repo repository.MachineRepository, cache MachineCache, log *zap.Logger) *MachineService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MachineService{repo: repo, cache: cache, log: log.Named("machines.service")}
}

func (s *MachineService) List(ctx context.Context) ([]domain.Machine, error) {
	if s.cache != nil {
		cached, err := s.cache.GetMachines(ctx)
		if err != nil {
			s.log.Warn("machines cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	machines, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetMachines(ctx, machines); err != nil {
			s.log.Warn("machines cache write failed", zap.Error(err))
		}
	}
	return machines, nil
}

func (s *MachineService) GetByID(ctx context.Context, id string) (*domain.Machine, error) {
	return s.repo.GetByID(ctx, id)
}

var _ MachineUseCase = (*MachineService)(nil)
