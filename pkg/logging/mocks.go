package logging

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a mock implementation of the Logger interface
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

// SetupDefaultExpectations sets up common logger mock expectations that accept any arguments.
// This is useful for tests where you don't care about specific logging calls.
func (m *MockLogger) SetupDefaultExpectations() {
	m.On("Debug", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Info", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Warn", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Error", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Fatal", mock.Anything, mock.Anything).Maybe().Return()

	m.On("Debugf", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Infof", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Warnf", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Errorf", mock.Anything, mock.Anything).Maybe().Return()
	m.On("Fatalf", mock.Anything, mock.Anything).Maybe().Return()

	m.On("With", mock.Anything).Maybe().Return(nil)
}

func (m *MockLogger) Debug(msg string, tags ...any) {
	m.Called(msg, tags)
}

func (m *MockLogger) Info(msg string, tags ...any) {
	m.Called(msg, tags)
}

func (m *MockLogger) Warn(msg string, tags ...any) {
	m.Called(msg, tags)
}

func (m *MockLogger) Error(msg string, tags ...any) {
	m.Called(msg, tags)
}

func (m *MockLogger) Fatal(msg string, tags ...any) {
	m.Called(msg, tags)
}

func (m *MockLogger) Debugf(template string, args ...interface{}) {
	m.Called(template, args)
}

func (m *MockLogger) Infof(template string, args ...interface{}) {
	m.Called(template, args)
}

func (m *MockLogger) Warnf(template string, args ...interface{}) {
	m.Called(template, args)
}

func (m *MockLogger) Errorf(template string, args ...interface{}) {
	m.Called(template, args)
}

func (m *MockLogger) Fatalf(template string, args ...interface{}) {
	m.Called(template, args)
}

func (m *MockLogger) With(tags ...any) Logger {
	args := m.Called(tags)
	if args.Get(0) == nil {
		return m
	}
	return args.Get(0).(Logger)
}
