package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/clock"
	"github.com/jkindrix/leadconcierge/internal/console"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/sanitize"
)

// Manager handles messages from configured managers.
type Manager struct {
	store   *conversation.Store
	console *console.Console
	outbox  *Outbox
	clock   clock.Clock
	logger  *zap.Logger
}

// Role implements RoleHandler.
func (m *Manager) Role() Role { return RoleManager }

// Handle runs the console and replies to the manager.
func (m *Manager) Handle(ctx context.Context, in Inbound) (Outcome, error) {
	now := m.clock.Now()
	conv, _ := m.store.GetOrCreate(in.From, now)
	conv.IsManager = true
	if conv.Lead.Name == "" && in.ProfileName != "" {
		conv.Lead.Name = in.ProfileName
	}
	if err := m.store.AppendHistory(ctx, in.From, domain.Inbound, in.Text, now); err != nil {
		m.logger.Warn("history append failed", logging.Phone("phone", in.From), zap.Error(err))
	}
	conv.Lead.LastInbound = now

	status := StatusCommand
	reply, err := m.console.Handle(ctx, conv, in.Text)
	if err != nil {
		m.logger.Error("console command failed", logging.Phone("phone", in.From), zap.Error(err))
		status = StatusCommandFailed
		if reply == "" {
			reply = "⚠️ No pude completar la operación: " + sanitize.NewDefault().Error(err)
		}
	}
	if reply != "" {
		if err := m.outbox.ToManager(ctx, conv, reply); err != nil {
			m.logger.Error("manager reply not delivered", logging.Phone("phone", in.From), zap.Error(err))
			status = StatusDeliveryFailed
		}
	}

	if err := m.store.SaveOne(ctx, in.From); err != nil {
		m.logger.Error("state save failed", logging.Phone("phone", in.From), zap.Error(err))
	}
	return Outcome{Role: RoleManager, Status: status, Reply: reply}, nil
}
