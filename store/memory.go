package store

import (
	"sync"
	"time"

	"pshare/models"
)

// Memory is an in-memory store used by tests and by development runs
// that do not need durability.
type Memory struct {
	mu        sync.Mutex
	users     map[string]*models.User
	friends   map[string]map[string]bool
	sessions  map[string]*models.Session
	requests  map[string]*models.FriendRequest
	transfers map[string]*models.OfflineTransfer
}

var (
	_ UserStore          = (*Memory)(nil)
	_ SessionStore       = (*Memory)(nil)
	_ FriendRequestStore = (*Memory)(nil)
	_ TransferStore      = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]*models.User),
		friends:   make(map[string]map[string]bool),
		sessions:  make(map[string]*models.Session),
		requests:  make(map[string]*models.FriendRequest),
		transfers: make(map[string]*models.OfflineTransfer),
	}
}

// User methods

func (m *Memory) CreateUser(u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}

	clone := *u
	m.users[u.ID] = &clone
	return nil
}

func (m *Memory) UserByID(id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *Memory) UserByUsername(username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateCredentials(id, credentialHash, salt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.CredentialHash = credentialHash
	u.Salt = salt
	return nil
}

func (m *Memory) UpdatePublicKey(id, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PublicKey = publicKey
	return nil
}

func (m *Memory) UpdateLastSeen(id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastSeen = t
	return nil
}

func (m *Memory) Friends(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var friends []string
	for friendID := range m.friends[id] {
		friends = append(friends, friendID)
	}
	return friends, nil
}

func (m *Memory) IsFriend(ownerID, friendID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.friends[ownerID][friendID], nil
}

func (m *Memory) AddFriendship(a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.friends[a] == nil {
		m.friends[a] = make(map[string]bool)
	}
	if m.friends[b] == nil {
		m.friends[b] = make(map[string]bool)
	}
	m.friends[a][b] = true
	m.friends[b][a] = true
	return nil
}

func (m *Memory) RemoveFriend(ownerID, friendID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.friends[ownerID], friendID)
	return nil
}

// Session methods

func (m *Memory) CreateSession(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.UserID == s.UserID || existing.Token == s.Token {
			return ErrDuplicate
		}
	}

	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *Memory) findSession(match func(*models.Session) bool) (*models.Session, error) {
	for _, s := range m.sessions {
		if match(s) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SessionByToken(token string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findSession(func(s *models.Session) bool { return s.Token == token })
}

func (m *Memory) SessionByEndpoint(address string, controlPort int) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findSession(func(s *models.Session) bool {
		return s.Address == address && s.ControlPort == controlPort
	})
}

func (m *Memory) SessionByUser(userID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findSession(func(s *models.Session) bool { return s.UserID == userID })
}

func (m *Memory) UpdateEndpoint(id, address string, controlPort, transferPort int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Address = address
	s.ControlPort = controlPort
	s.TransferPort = transferPort
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateTransferPort(id string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.TransferPort = port
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateNATStatus(id string, status models.NATStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.NATStatus = status
	return nil
}

func (m *Memory) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) DeleteSessionByUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *Memory) IdleSessions(cutoff time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idle []models.Session
	for _, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			idle = append(idle, *s)
		}
	}
	return idle, nil
}

// FriendRequest methods

func (m *Memory) CreateFriendRequest(fr *models.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *fr
	m.requests[fr.ID] = &clone
	return nil
}

func (m *Memory) FriendRequestByID(id string) (*models.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fr, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *fr
	return &clone, nil
}

func (m *Memory) FriendRequestsTo(userID string) ([]models.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var requests []models.FriendRequest
	for _, fr := range m.requests {
		if fr.ToUserID == userID {
			requests = append(requests, *fr)
		}
	}
	return requests, nil
}

func (m *Memory) DeleteFriendRequest(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

// OfflineTransfer methods

func (m *Memory) CreateTransfer(t *models.OfflineTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *t
	m.transfers[t.ID] = &clone
	return nil
}

func (m *Memory) TransfersTo(userID string) ([]models.OfflineTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var transfers []models.OfflineTransfer
	for _, t := range m.transfers {
		if t.ToUserID == userID {
			transfers = append(transfers, *t)
		}
	}
	return transfers, nil
}

func (m *Memory) DeleteTransfer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transfers[id]; !ok {
		return ErrNotFound
	}
	delete(m.transfers, id)
	return nil
}
