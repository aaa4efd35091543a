package controlplane

import "context"

// Handler receives control-plane events. Loop.Run calls its methods in the
// per-wakeup order spec guarantees: UVN samples, then CELL, then BACKBONE,
// then user conditions, so identity information is always available before
// configuration deltas are applied.
type Handler interface {
	OnUVNSample(sample UVNSample, instance string)
	OnUVNDisposed(instance string)
	OnCellSample(sample CellSample, instance string)
	OnCellDisposed(instance string)
	OnBackboneSample(sample BackboneSample, instance string)
	OnBackboneDisposed(instance string)
	OnUserCondition(c Condition)
}

// Loop owns the three standing readers (UVN, CELL, BACKBONE) plus any
// caller-supplied user conditions, and pumps wakeups to a Handler in the
// documented order. This is the whole of the Agent's single event-loop
// thread described in the concurrency model; everything else runs on its
// own goroutine and reaches the loop only through a user condition.
type Loop struct {
	participant    Participant
	waitset        Waitset
	uvnReader      Reader
	cellReader     Reader
	backboneReader Reader
	userConditions []Condition
	handler        Handler
}

// NewLoop opens UVN/CELL/BACKBONE readers on participant, attaches them plus
// userConditions to a fresh Waitset, and returns a Loop ready to Run.
func NewLoop(participant Participant, handler Handler, userConditions ...Condition) (*Loop, error) {
	uvnReader, err := participant.Reader(TopicUVN)
	if err != nil {
		return nil, err
	}
	cellReader, err := participant.Reader(TopicCell)
	if err != nil {
		return nil, err
	}
	backboneReader, err := participant.Reader(TopicBackbone)
	if err != nil {
		return nil, err
	}

	ws := participant.NewWaitset()
	ws.Attach(uvnReader)
	ws.Attach(cellReader)
	ws.Attach(backboneReader)
	for _, c := range userConditions {
		ws.Attach(c)
	}

	return &Loop{
		participant:    participant,
		waitset:        ws,
		uvnReader:      uvnReader,
		cellReader:     cellReader,
		backboneReader: backboneReader,
		userConditions: userConditions,
		handler:        handler,
	}, nil
}

// Run blocks, pumping wakeups to the Handler until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		active, err := l.waitset.Wait(ctx)
		if err != nil {
			return err
		}
		l.dispatch(active)
	}
}

func (l *Loop) dispatch(active []Condition) {
	activeSet := make(map[Condition]bool, len(active))
	for _, c := range active {
		activeSet[c] = true
	}

	if activeSet[l.uvnReader] {
		for _, ev := range l.uvnReader.Take() {
			if ev.Disposed {
				l.handler.OnUVNDisposed(ev.Instance)
				continue
			}
			if sample, ok := ev.Sample.(UVNSample); ok {
				l.handler.OnUVNSample(sample, ev.Instance)
			}
		}
	}

	if activeSet[l.cellReader] {
		for _, ev := range l.cellReader.Take() {
			if ev.Disposed {
				l.handler.OnCellDisposed(ev.Instance)
				continue
			}
			if sample, ok := ev.Sample.(CellSample); ok {
				l.handler.OnCellSample(sample, ev.Instance)
			}
		}
	}

	if activeSet[l.backboneReader] {
		for _, ev := range l.backboneReader.Take() {
			if ev.Disposed {
				l.handler.OnBackboneDisposed(ev.Instance)
				continue
			}
			if sample, ok := ev.Sample.(BackboneSample); ok {
				l.handler.OnBackboneSample(sample, ev.Instance)
			}
		}
	}

	for _, c := range l.userConditions {
		if activeSet[c] {
			l.handler.OnUserCondition(c)
		}
	}
}

// Close releases the loop's readers and its participant.
func (l *Loop) Close() error {
	l.uvnReader.Close()
	l.cellReader.Close()
	l.backboneReader.Close()
	return l.participant.Close()
}
