package client

import (
	"context"
	"errors"
	"sync"

	"tandem/internal/core/domain"

	"go.uber.org/zap"
)

// Sender writes one frame to the coordinator. *Client implements it.
type Sender interface {
	Send(msgType domain.MessageType, payload interface{}) error
}

// Player is the local playback state of one room member. Local actions are
// applied first and then relayed; remote events arriving through Handle are
// applied without being relayed again. The coordinator never holds this state,
// so resync requests from other members are answered from here.
type Player struct {
	sender Sender
	room   domain.RoomID
	logger *zap.SugaredLogger

	mu       sync.Mutex
	state    domain.PlaybackState
	onChange func(domain.PlaybackState)
}

func NewPlayer(sender Sender, room domain.RoomID, logger *zap.SugaredLogger) *Player {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Player{
		sender: sender,
		room:   room,
		logger: logger.Named("player").With("room_id", room),
	}
}

func (p *Player) Room() domain.RoomID { return p.room }

func (p *Player) State() domain.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnChange registers fn to be called after every state change, local or remote.
func (p *Player) OnChange(fn func(domain.PlaybackState)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Player) Load(item domain.MediaItemID) error {
	p.apply(func(s domain.PlaybackState) (domain.PlaybackState, error) { return s.Load(item), nil })
	return p.sender.Send(domain.TypeLoad, domain.LoadPayload{RoomID: p.room, MediaItemID: item})
}

func (p *Player) Play(position float64) error {
	if err := p.apply(func(s domain.PlaybackState) (domain.PlaybackState, error) { return s.Play(position) }); err != nil {
		return err
	}
	return p.sender.Send(domain.TypePlay, domain.PositionPayload{RoomID: p.room, Position: &position})
}

func (p *Player) Pause(position float64) error {
	if err := p.apply(func(s domain.PlaybackState) (domain.PlaybackState, error) { return s.Pause(position) }); err != nil {
		return err
	}
	return p.sender.Send(domain.TypePause, domain.PositionPayload{RoomID: p.room, Position: &position})
}

func (p *Player) Seek(position float64) error {
	if err := p.apply(func(s domain.PlaybackState) (domain.PlaybackState, error) { return s.Seek(position) }); err != nil {
		return err
	}
	return p.sender.Send(domain.TypeSeek, domain.PositionPayload{RoomID: p.room, Position: &position})
}

func (p *Player) SetLoop(looping bool) error {
	p.apply(func(s domain.PlaybackState) (domain.PlaybackState, error) { return s.SetLoop(looping), nil })
	return p.sender.Send(domain.TypeSetLoop, domain.LoopPayload{RoomID: p.room, IsLooping: &looping})
}

// Resync asks the other room members for their state. The first answer is adopted.
func (p *Player) Resync() error {
	return p.sender.Send(domain.TypeRequestResync, domain.RoomPayload{RoomID: p.room})
}

// Handle applies one inbound event. It reports whether the event belonged to
// this player; events for other rooms or of unrelated types are ignored.
func (p *Player) Handle(ev Event) (bool, error) {
	switch ev.Type {
	case domain.TypeLoad, domain.TypePlay, domain.TypePause, domain.TypeSeek, domain.TypeSetLoop:
		e, err := Decode[domain.PlaybackEvent](ev)
		if err != nil {
			return false, err
		}
		if e.RoomID != p.room {
			return false, nil
		}
		return true, p.apply(func(s domain.PlaybackState) (domain.PlaybackState, error) {
			return applyRemote(s, ev.Type, e)
		})

	case domain.TypeRequestResync:
		e, err := Decode[domain.ResyncRequestEvent](ev)
		if err != nil {
			return false, err
		}
		if e.RoomID != p.room {
			return false, nil
		}
		return true, p.answerResync(e.Requester)

	case domain.TypeProvideResync:
		e, err := Decode[domain.ResyncAnswerEvent](ev)
		if err != nil {
			return false, err
		}
		if e.RoomID != p.room {
			return false, nil
		}
		p.apply(func(domain.PlaybackState) (domain.PlaybackState, error) { return e.State, nil })
		p.logger.Debugw("Adopted resync state", "from", e.From, "media_item_id", e.State.MediaItemID)
		return true, nil
	}
	return false, nil
}

// Run feeds events into Handle until ctx is done or events is closed.
// Transitions that do not apply to the current state are logged and skipped.
func (p *Player) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := p.Handle(ev); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					p.logger.Debugw("Ignoring remote event", "type", ev.Type, "phase", p.State().Phase())
					continue
				}
				p.logger.Warnw("Failed to handle event", "type", ev.Type, "error", err)
			}
		}
	}
}

// answerResync replies with the current state. An idle player has nothing
// to offer and stays silent so a loaded peer can answer instead.
func (p *Player) answerResync(requester domain.ConnectionID) error {
	state := p.State()
	if state.Phase() == domain.PhaseIdle {
		return nil
	}
	return p.sender.Send(domain.TypeProvideResync, domain.ProvideResyncPayload{
		RoomID:           p.room,
		TargetConnection: requester,
		State:            &state,
	})
}

func (p *Player) apply(fn func(domain.PlaybackState) (domain.PlaybackState, error)) error {
	p.mu.Lock()
	next, err := fn(p.state)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	changed := next != p.state
	p.state = next
	onChange := p.onChange
	p.mu.Unlock()

	if changed && onChange != nil {
		onChange(next)
	}
	return nil
}

func applyRemote(s domain.PlaybackState, msgType domain.MessageType, e domain.PlaybackEvent) (domain.PlaybackState, error) {
	position := s.Position
	if e.Position != nil {
		position = *e.Position
	}

	switch msgType {
	case domain.TypeLoad:
		return s.Load(e.MediaItemID), nil
	case domain.TypePlay:
		return s.Play(position)
	case domain.TypePause:
		return s.Pause(position)
	case domain.TypeSeek:
		return s.Seek(position)
	case domain.TypeSetLoop:
		if e.IsLooping == nil {
			return s, nil
		}
		return s.SetLoop(*e.IsLooping), nil
	}
	return s, nil
}
