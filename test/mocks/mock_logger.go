package mocks

import (
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// MockLogger is a no-op ports.Logger for tests
type MockLogger struct{}

func (MockLogger) Info(msg string, fields ...ports.Field)  {}
func (MockLogger) Error(msg string, fields ...ports.Field) {}
func (MockLogger) Warn(msg string, fields ...ports.Field)  {}
func (MockLogger) Debug(msg string, fields ...ports.Field) {}
