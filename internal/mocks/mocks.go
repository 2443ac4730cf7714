// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
)

// -- Browser Mock --

// MockBrowser implements handlers.Browser for testing.
type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) Navigate(ctx context.Context, tabID, url string) (schemas.TabInfo, error) {
	args := m.Called(ctx, tabID, url)
	return args.Get(0).(schemas.TabInfo), args.Error(1)
}

func (m *MockBrowser) ListTabs(ctx context.Context) ([]schemas.TabInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.TabInfo), args.Error(1)
}

func (m *MockBrowser) Screenshot(ctx context.Context, tabID string, opts schemas.ScreenshotOptions) (schemas.Screenshot, error) {
	args := m.Called(ctx, tabID, opts)
	return args.Get(0).(schemas.Screenshot), args.Error(1)
}

func (m *MockBrowser) Cookies(ctx context.Context, tabID string, urls []string) ([]schemas.Cookie, error) {
	args := m.Called(ctx, tabID, urls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Cookie), args.Error(1)
}

func (m *MockBrowser) ExecuteScript(ctx context.Context, tabID, script string) (interface{}, error) {
	args := m.Called(ctx, tabID, script)
	return args.Get(0), args.Error(1)
}

func (m *MockBrowser) StartNetworkCapture(ctx context.Context, tabID string) error {
	return m.Called(ctx, tabID).Error(0)
}

func (m *MockBrowser) StopNetworkCapture(ctx context.Context, tabID string) error {
	return m.Called(ctx, tabID).Error(0)
}

func (m *MockBrowser) NetworkLogs(ctx context.Context, tabID string, clear bool) ([]schemas.NetworkEntry, error) {
	args := m.Called(ctx, tabID, clear)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.NetworkEntry), args.Error(1)
}

// -- Messenger Mock --

// MockMessenger implements handlers.TabMessenger for testing.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, tabID string, msg schemas.BridgeMessage) (schemas.BridgeReply, error) {
	args := m.Called(ctx, tabID, msg)
	return args.Get(0).(schemas.BridgeReply), args.Error(1)
}
