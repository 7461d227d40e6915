package operations

import (
	"sync"
	"time"
)

// ProgressTracker turns item counts inside one step into the 0-100 progress
// published through the status broadcaster
type ProgressTracker struct {
	mu          sync.Mutex
	operationID string
	step        *StepState
	broadcaster *StatusBroadcaster
	Total       int
	Current     int
	StartTime   time.Time
	Message     string
}

// NewProgressTracker creates a tracker for total items of step. A nil
// broadcaster only updates the step state.
func NewProgressTracker(operationID string, step *StepState, total int, broadcaster *StatusBroadcaster) *ProgressTracker {
	return &ProgressTracker{
		operationID: operationID,
		step:        step,
		broadcaster: broadcaster,
		Total:       total,
		StartTime:   time.Now(),
	}
}

// Update sets the number of finished items
func (p *ProgressTracker) Update(current int, message string) {
	p.mu.Lock()
	p.Current = current
	p.Message = message
	percent := p.percent()
	p.mu.Unlock()

	p.publish(percent, message)
}

// Increment marks one more item as finished
func (p *ProgressTracker) Increment(message string) {
	p.mu.Lock()
	p.Current++
	p.Message = message
	percent := p.percent()
	p.mu.Unlock()

	p.publish(percent, message)
}

// GetProgress returns the current progress state
func (p *ProgressTracker) GetProgress() (current, total int, percentage float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Current, p.Total, p.percent(), p.Message
}

// IsComplete returns true once every item is finished
func (p *ProgressTracker) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Current >= p.Total
}

func (p *ProgressTracker) percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Current) / float64(p.Total) * 100
	return min(pct, 100)
}

// publish keeps running steps below 100; completion is reported by the manager
func (p *ProgressTracker) publish(percent float64, message string) {
	shown := min(percent, 99)
	if p.step != nil {
		p.step.UpdateProgress(shown, message)
	}
	if p.broadcaster != nil {
		var metadata map[string]interface{}
		if p.step != nil {
			p.step.mu.RLock()
			metadata = make(map[string]interface{}, len(p.step.Metadata))
			for k, v := range p.step.Metadata {
				metadata[k] = v
			}
			p.step.mu.RUnlock()
		}
		p.broadcaster.UpdateStepWithMetadata(p.operationID, p.stepID(), int(shown), message, metadata)
	}
}

func (p *ProgressTracker) stepID() string {
	if p.step == nil {
		return ""
	}
	return p.step.ID
}
