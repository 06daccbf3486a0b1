package notify

import "context"

// MemoryNotifier collects updates on a buffered channel. Used in tests
// and anywhere a worker runs without Redis.
type MemoryNotifier struct {
	Updates chan ProgressUpdate
}

func NewMemoryNotifier(buffer int) *MemoryNotifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryNotifier{Updates: make(chan ProgressUpdate, buffer)}
}

// Publish records the update, dropping it when the buffer is full so a
// slow consumer never blocks the job pipeline.
func (n *MemoryNotifier) Publish(ctx context.Context, update ProgressUpdate) error {
	select {
	case n.Updates <- update:
	default:
	}
	return nil
}

// Drain returns every update published so far.
func (n *MemoryNotifier) Drain() []ProgressUpdate {
	var out []ProgressUpdate
	for {
		select {
		case u := <-n.Updates:
			out = append(out, u)
		default:
			return out
		}
	}
}
