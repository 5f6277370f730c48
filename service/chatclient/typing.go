package chatclient

import (
	"time"

	"go.uber.org/zap"
)

// StartTyping marks the local user as typing. The first call of a session
// sends typing_start; every call pushes the idle timeout back.
func (c *Client) StartTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingSeq++
	seq := c.typingSeq
	c.typingTimer = time.AfterFunc(c.cfg.TypingTimeout, func() { c.typingIdle(seq) })

	if c.localTyping {
		return
	}
	c.localTyping = true
	c.emitLocked(Event{Kind: EventTyping, Typing: true})
	if err := c.writeFrameLocked(FrameTypingStart, nil); err != nil {
		c.log.Debug("send typing_start failed", zap.Error(err))
	}
}

// StopTyping ends the typing session; typing_stop goes out at most once per session.
func (c *Client) StopTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTypingLocked()
}

func (c *Client) typingIdle(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.typingSeq {
		return
	}
	c.typingTimer = nil
	c.stopTypingLocked()
}

func (c *Client) stopTypingLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingSeq++
	if !c.localTyping {
		return
	}
	c.localTyping = false
	c.emitLocked(Event{Kind: EventTyping})
	if c.conn == nil {
		return
	}
	if err := c.writeFrameLocked(FrameTypingStop, nil); err != nil {
		c.log.Debug("send typing_stop failed", zap.Error(err))
	}
}

// setRemoteTypingLocked flips the remote flag; turning it on (again) arms the
// idle timer that clears it.
func (c *Client) setRemoteTypingLocked(on bool) {
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
		c.remoteTimer = nil
	}
	c.remoteSeq++
	if on {
		seq := c.remoteSeq
		c.remoteTimer = time.AfterFunc(c.cfg.TypingTimeout, func() { c.remoteIdle(seq) })
	}
	if c.remoteTyping == on {
		return
	}
	c.remoteTyping = on
	c.emitLocked(Event{Kind: EventTyping, Typing: on, Remote: true})
}

func (c *Client) remoteIdle(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.remoteSeq {
		return
	}
	c.remoteTimer = nil
	c.setRemoteTypingLocked(false)
}

// resetTypingLocked clears both directions without touching the wire; the
// connection is already gone.
func (c *Client) resetTypingLocked() {
	c.stopTypingLocked()
	c.setRemoteTypingLocked(false)
}
