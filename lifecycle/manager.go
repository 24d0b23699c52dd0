package lifecycle

import (
	"fmt"
	"sort"
	"sync"
)

// DetectorFactory builds a ChangeDetector for a folder path.
type DetectorFactory func(folderPath string) ChangeDetector

// ExecutorFactory builds a TaskExecutor for a folder path.
type ExecutorFactory func(folderPath string) TaskExecutor

// Manager owns one Orchestrator per registered folder, keyed by folder id.
// Orchestrator lifetime is tied one-to-one to folder registration and
// removal; there is no process-wide registry. Folders converge fully
// concurrently and share nothing but the status sink, which must be safe
// for concurrent writes.
type Manager struct {
	cfg         Config
	newDetector DetectorFactory
	newExecutor ExecutorFactory
	sink        StatusSink

	mu      sync.Mutex
	folders map[string]*Orchestrator
	closed  bool
}

// NewManager creates a folder manager. The factories supply each folder's
// scanner and embedding executor; the sink receives every folder's
// throttled status events.
func NewManager(cfg Config, newDetector DetectorFactory, newExecutor ExecutorFactory, sink StatusSink) *Manager {
	return &Manager{
		cfg:         cfg,
		newDetector: newDetector,
		newExecutor: newExecutor,
		sink:        sink,
		folders:     make(map[string]*Orchestrator),
	}
}

// AddFolder registers a folder and starts its first convergence pass.
func (m *Manager) AddFolder(folderID, folderPath string) (*Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("manager is closed")
	}
	if _, exists := m.folders[folderID]; exists {
		return nil, fmt.Errorf("folder %q is already registered", folderID)
	}

	orch := NewOrchestrator(folderID, folderPath, m.cfg, m.newDetector(folderPath), m.newExecutor(folderPath), m.sink)
	m.folders[folderID] = orch
	orch.StartScanning()
	return orch, nil
}

// RemoveFolder disposes a folder's orchestrator and unregisters it. All of
// the folder's pending tasks and timers are cancelled first.
func (m *Manager) RemoveFolder(folderID string) bool {
	m.mu.Lock()
	orch, ok := m.folders[folderID]
	delete(m.folders, folderID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	orch.Dispose()
	return true
}

// Get returns the orchestrator for a folder id.
func (m *Manager) Get(folderID string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orch, ok := m.folders[folderID]
	return orch, ok
}

// OnFileSystemChange forwards watcher notifications to a folder's
// orchestrator. Unknown ids are ignored; the watcher may outlive a removed
// folder by a beat.
func (m *Manager) OnFileSystemChange(folderID string, paths []string) {
	if orch, ok := m.Get(folderID); ok {
		orch.OnFileSystemChange(paths)
	}
}

// States returns the lifecycle view of every registered folder, ordered by
// folder id.
func (m *Manager) States() []FolderState {
	m.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(m.folders))
	for _, orch := range m.folders {
		orchs = append(orchs, orch)
	}
	m.mu.Unlock()

	states := make([]FolderState, 0, len(orchs))
	for _, orch := range orchs {
		states = append(states, orch.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].FolderID < states[j].FolderID
	})
	return states
}

// Close disposes every orchestrator and rejects further registration.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	orchs := make([]*Orchestrator, 0, len(m.folders))
	for id, orch := range m.folders {
		orchs = append(orchs, orch)
		delete(m.folders, id)
	}
	m.mu.Unlock()

	for _, orch := range orchs {
		orch.Dispose()
	}
}
