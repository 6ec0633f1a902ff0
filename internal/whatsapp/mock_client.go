package whatsapp

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// MockCall records a method call on the mock client
type MockCall struct {
	Method    string
	Args      []interface{}
	Timestamp time.Time
}

// MockClient is a test double for Client. It records every call and lets
// tests drive the event pipeline through Emit.
type MockClient struct {
	mu sync.Mutex

	// Recorded calls
	Calls []MockCall

	// Configurable state
	Connected bool
	LoggedIn  bool
	DeviceJID *types.JID
	Contacts  map[types.JID]types.ContactInfo

	// Configurable returns
	ConnectError  error
	SendError     error
	UploadError   error
	DownloadError error
	DownloadData  []byte
	UploadResult  whatsmeow.UploadResponse

	// Registered event handlers, in registration order
	handlers      []whatsmeow.EventHandler
	nextHandlerID uint32
}

// NewMockClient creates a disconnected, logged-out mock
func NewMockClient() *MockClient {
	return &MockClient{
		Contacts: make(map[types.JID]types.ContactInfo),
	}
}

// NewConnectedMockClient creates a connected but not logged in mock
func NewConnectedMockClient() *MockClient {
	m := NewMockClient()
	m.Connected = true
	return m
}

// NewLoggedInMockClient creates a connected and logged in mock with the
// given device identity.
func NewLoggedInMockClient(jid types.JID) *MockClient {
	m := NewConnectedMockClient()
	m.LoggedIn = true
	m.DeviceJID = &jid
	return m
}

func (m *MockClient) record(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// GetCallsByMethod returns all recorded calls for the given method
func (m *MockClient) GetCallsByMethod(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Emit delivers an event to every registered handler, the way the real
// client does after Connect.
func (m *MockClient) Emit(evt interface{}) {
	m.mu.Lock()
	handlers := make([]whatsmeow.EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected
}

func (m *MockClient) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoggedIn
}

func (m *MockClient) Connect() error {
	m.record("Connect")
	if m.ConnectError != nil {
		return m.ConnectError
	}
	m.mu.Lock()
	m.Connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Disconnect() {
	m.record("Disconnect")
	m.mu.Lock()
	m.Connected = false
	m.mu.Unlock()
}

func (m *MockClient) Logout(ctx context.Context) error {
	m.record("Logout")
	m.mu.Lock()
	m.Connected = false
	m.LoggedIn = false
	m.mu.Unlock()
	return nil
}

func (m *MockClient) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	m.record("GetQRChannel")
	ch := make(chan whatsmeow.QRChannelItem)
	close(ch)
	return ch, nil
}

func (m *MockClient) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	m.record("SendMessage", to, message)
	if m.SendError != nil {
		return whatsmeow.SendResponse{}, m.SendError
	}
	return whatsmeow.SendResponse{ID: "MOCK-MSG-ID", Timestamp: time.Now()}, nil
}

func (m *MockClient) MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error {
	m.record("MarkRead", ids, chat, sender)
	return nil
}

func (m *MockClient) SendPresence(ctx context.Context, state types.Presence) error {
	m.record("SendPresence", state)
	return nil
}

func (m *MockClient) SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	m.record("SendChatPresence", jid, state, media)
	return nil
}

func (m *MockClient) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	m.record("Upload", appInfo, len(plaintext))
	if m.UploadError != nil {
		return whatsmeow.UploadResponse{}, m.UploadError
	}
	res := m.UploadResult
	res.FileLength = uint64(len(plaintext))
	return res, nil
}

func (m *MockClient) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	m.record("Download", msg)
	if m.DownloadError != nil {
		return nil, m.DownloadError
	}
	if m.DownloadData != nil {
		return m.DownloadData, nil
	}
	return []byte("mock-media"), nil
}

func (m *MockClient) GetStore() DeviceStore {
	return &mockDeviceStore{client: m}
}

func (m *MockClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	m.nextHandlerID++
	return m.nextHandlerID
}

type mockDeviceStore struct {
	client *MockClient
}

func (s *mockDeviceStore) GetID() *types.JID {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.client.DeviceJID
}

func (s *mockDeviceStore) GetContacts() ContactStore {
	return &mockContactStore{client: s.client}
}

type mockContactStore struct {
	client *MockClient
}

func (s *mockContactStore) GetAllContacts(ctx context.Context) (map[types.JID]types.ContactInfo, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	out := make(map[types.JID]types.ContactInfo, len(s.client.Contacts))
	for k, v := range s.client.Contacts {
		out[k] = v
	}
	return out, nil
}
