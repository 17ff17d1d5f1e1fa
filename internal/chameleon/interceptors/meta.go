package interceptors

import (
	"errors"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/chameleon/defense"
)

// Meta hardens the page before the surfaces are touched: it makes sure the
// self-defense guard is active and hides every marker global from
// enumeration.
type Meta struct {
	page   Page
	logger *zap.Logger
}

// NewMeta creates the meta interceptor.
func NewMeta(page Page, logger *zap.Logger) *Meta {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Meta{page: page, logger: logger.Named("meta")}
}

// Init runs once per page.
func (m *Meta) Init() error {
	guard := m.page.Guard()
	if guard == nil {
		return errors.New("page offers no defense guard")
	}
	return run(m.page, func(vm *goja.Runtime) error {
		if !guard.Installed() {
			m.logger.Debug("Guard missing, installing it")
			if err := guard.Install(vm); err != nil {
				return err
			}
		}
		hidden := defense.HideMarkers(vm)
		m.logger.Debug("Marker globals hidden", zap.Int("count", hidden))
		return nil
	})
}
