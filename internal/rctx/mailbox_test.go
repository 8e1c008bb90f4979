package rctx

import (
	"testing"
	"time"
)

func TestMailboxSendRecvFIFO(t *testing.T) {
	m := newMailbox(4)
	for i := 0; i < 3; i++ {
		if err := m.send(Message{SeqNum: uint32(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if !m.hasMessages() {
		t.Fatal("hasMessages: want true after sends")
	}
	for i := 0; i < 3; i++ {
		msg, err := m.recv(0)
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if msg.SeqNum != uint32(i) {
			t.Fatalf("recv %d: got SeqNum %d, want %d (FIFO order violated)", i, msg.SeqNum, i)
		}
	}
	if m.hasMessages() {
		t.Fatal("hasMessages: want false after draining")
	}
}

func TestMailboxFullReturnsMemory(t *testing.T) {
	m := newMailbox(2)
	if err := m.send(Message{}); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if err := m.send(Message{}); err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if err := m.send(Message{}); err == nil {
		t.Fatal("send 3: want ErrMemory on full mailbox, got nil")
	}
}

func TestMailboxRecvTimeout(t *testing.T) {
	m := newMailbox(1)
	start := time.Now()
	_, err := m.recv(20 * time.Millisecond)
	if err == nil {
		t.Fatal("recv: want ErrTimeout on empty mailbox, got nil")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("recv: returned before the timeout elapsed")
	}
}

func TestMailboxRecvBlocksUntilSend(t *testing.T) {
	m := newMailbox(1)
	done := make(chan Message, 1)
	go func() {
		msg, err := m.recv(time.Second)
		if err != nil {
			t.Errorf("recv: %v", err)
		}
		done <- msg
	}()
	time.Sleep(10 * time.Millisecond)
	if err := m.send(Message{SeqNum: 42}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-done:
		if msg.SeqNum != 42 {
			t.Fatalf("got SeqNum %d, want 42", msg.SeqNum)
		}
	case <-time.After(time.Second):
		t.Fatal("recv never returned after send")
	}
}
