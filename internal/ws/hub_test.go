package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.chats == nil {
		t.Error("NewHub() chats map is nil")
	}
}

func TestHub_Online_UnknownChat(t *testing.T) {
	hub := NewHub()
	if online := hub.Online(uuid.New()); online != 0 {
		t.Errorf("Online() for unknown chat = %d, want 0", online)
	}
}

func TestChatHub_Register(t *testing.T) {
	ch := NewChatHub(uuid.New())

	client := &Client{
		chat:   ch,
		userID: 1,
		uname:  "testuser",
		send:   make(chan []byte, 256),
	}

	go ch.run()

	ch.register <- client
	time.Sleep(10 * time.Millisecond)

	if ch.Online() != 1 {
		t.Errorf("Online() after register = %d, want 1", ch.Online())
	}
}

func TestChatHub_Unregister(t *testing.T) {
	ch := NewChatHub(uuid.New())

	client := &Client{
		chat:   ch,
		userID: 1,
		uname:  "testuser",
		send:   make(chan []byte, 256),
	}

	go ch.run()

	ch.register <- client
	time.Sleep(10 * time.Millisecond)

	ch.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if ch.Online() != 0 {
		t.Errorf("Online() after unregister = %d, want 0", ch.Online())
	}
}

func TestChatHub_Broadcast(t *testing.T) {
	ch := NewChatHub(uuid.New())

	clients := make([]*Client, 3)
	for i := 0; i < 3; i++ {
		clients[i] = &Client{
			chat:   ch,
			userID: uint(i + 1),
			uname:  "user" + string(rune('0'+i)),
			send:   make(chan []byte, 256),
		}
	}

	go ch.run()

	for _, c := range clients {
		ch.register <- c
	}
	time.Sleep(20 * time.Millisecond)

	// drain the join presence events first
	for _, c := range clients {
		for len(c.send) > 0 {
			<-c.send
		}
	}

	testMsg := []byte(`{"type":"message","content":"hello"}`)
	ch.broadcast <- testMsg

	var wg sync.WaitGroup
	received := make([]bool, 3)

	for i, c := range clients {
		wg.Add(1)
		go func(idx int, client *Client) {
			defer wg.Done()
			select {
			case msg := <-client.send:
				if string(msg) == string(testMsg) {
					received[idx] = true
				}
			case <-time.After(100 * time.Millisecond):
			}
		}(i, c)
	}

	wg.Wait()

	for i, r := range received {
		if !r {
			t.Errorf("Client %d did not receive broadcast message", i)
		}
	}
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub()
	chatID := uuid.New()

	// Publish to a chat nobody joined must not create a hub
	hub.Publish(chatID, map[string]string{"type": "role_changed"})
	hub.mu.RLock()
	_, exists := hub.chats[chatID]
	hub.mu.RUnlock()
	if exists {
		t.Fatal("Publish() should not create a chat hub")
	}

	ch := hub.GetChat(chatID)
	client := &Client{chat: ch, userID: 7, uname: "alice", send: make(chan []byte, 256)}
	ch.register <- client
	time.Sleep(10 * time.Millisecond)
	for len(client.send) > 0 {
		<-client.send
	}

	hub.Publish(chatID, map[string]interface{}{"type": "participant_added", "user_id": 9})

	select {
	case msg := <-client.send:
		var evt map[string]interface{}
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("invalid event json: %v", err)
		}
		if evt["type"] != "participant_added" {
			t.Errorf("event type = %v, want participant_added", evt["type"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive published event")
	}
}

func TestHub_MultipleChats(t *testing.T) {
	hub := NewHub()

	id1, id2 := uuid.New(), uuid.New()
	ch1 := hub.GetChat(id1)
	ch2 := hub.GetChat(id2)

	client1 := &Client{chat: ch1, userID: 1, uname: "user1", send: make(chan []byte, 256)}
	client2 := &Client{chat: ch2, userID: 2, uname: "user2", send: make(chan []byte, 256)}

	ch1.register <- client1
	ch2.register <- client2

	time.Sleep(20 * time.Millisecond)

	if hub.Online(id1) != 1 {
		t.Errorf("Online(chat1) = %d, want 1", hub.Online(id1))
	}
	if hub.Online(id2) != 1 {
		t.Errorf("Online(chat2) = %d, want 1", hub.Online(id2))
	}
}

func TestChatHub_Concurrent(t *testing.T) {
	ch := NewChatHub(uuid.New())
	go ch.run()

	var wg sync.WaitGroup
	numClients := 10

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client := &Client{
				chat:   ch,
				userID: uint(id),
				uname:  "user",
				send:   make(chan []byte, 256),
			}
			ch.register <- client
		}(i)
	}

	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	if ch.Online() != numClients {
		t.Errorf("Online() after concurrent register = %d, want %d", ch.Online(), numClients)
	}
}
