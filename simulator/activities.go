package simulator

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
)

func (s *EnhancedSimulator) SimulateActivities(ctx context.Context) error {
	log.Printf("Starting activities simulation...")

	// Reads and status changes only make sense once messages exist
	messagesAvailable := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateMessages(ctx, messagesAvailable)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-messagesAvailable:
			log.Printf("Starting mark-read sweeps after messages available...")
			s.simulateReads(ctx)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-messagesAvailable:
			log.Printf("Starting chat status churn after messages available...")
			s.simulateStatusChanges(ctx)
		}
	}()

	wg.Wait()
	return nil
}

func (s *EnhancedSimulator) simulateMessages(ctx context.Context, messagesAvailable chan struct{}) {
	log.Printf("Starting message simulation...")

	tickInterval := 500 * time.Millisecond
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	const numWorkers = 5
	messageJobs := make(chan *SimChat, len(s.chats))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for chat := range messageJobs {
				if chat.Archived {
					continue
				}

				if rand.Float64() >= (s.config.MessageFrequency/3600.0)/2.0 {
					continue
				}

				// Either side of the chat may speak
				sender := chat.Buyer
				if rand.Float64() < 0.5 {
					sender = chat.Seller
				}
				if !sender.IsConnected {
					continue
				}

				s.stats.mu.RLock()
				seq := s.stats.TotalMessages
				s.stats.mu.RUnlock()

				data := map[string]interface{}{
					"chatId":  chat.ID.String(),
					"content": randomContent(seq),
				}

				if _, err := s.makeRequest(sender, "POST", "/chat/send", data); err != nil {
					log.Printf("Worker %d: failed to send message in chat %s: %v",
						workerID, chat.ID, err)
					continue
				}

				s.stats.mu.Lock()
				s.stats.TotalMessages++
				messageCount := s.stats.TotalMessages
				s.stats.mu.Unlock()

				if messageCount == 10 {
					select {
					case <-messagesAvailable:
					default:
						close(messagesAvailable)
					}
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			close(messageJobs)
			wg.Wait()
			return
		case <-ticker.C:
			s.mu.RLock()
			for _, chat := range s.chats {
				select {
				case messageJobs <- chat:
				default: // Don't block if channel is full
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *EnhancedSimulator) simulateReads(ctx context.Context) {
	tickInterval := 500 * time.Millisecond
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	const numWorkers = 5
	readJobs := make(chan *SimChat, len(s.chats))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for chat := range readJobs {
				if rand.Float64() >= (s.config.ReadFrequency/3600.0)/2.0 {
					continue
				}

				reader := chat.Buyer
				if rand.Float64() < 0.5 {
					reader = chat.Seller
				}
				if !reader.IsConnected {
					continue
				}

				data := map[string]interface{}{
					"chatId": chat.ID.String(),
				}

				if _, err := s.makeRequest(reader, "POST", "/chat/read", data); err != nil {
					log.Printf("Worker %d: failed to mark chat %s read: %v",
						workerID, chat.ID, err)
					continue
				}

				s.stats.mu.Lock()
				s.stats.TotalReads++
				s.stats.mu.Unlock()
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			close(readJobs)
			wg.Wait()
			return
		case <-ticker.C:
			s.mu.RLock()
			for _, chat := range s.chats {
				select {
				case readJobs <- chat:
				default:
				}
			}
			s.mu.RUnlock()
		}
	}
}

// simulateStatusChanges occasionally archives a chat and later reopens it,
// exercising the rejection path for sends into non-active chats.
func (s *EnhancedSimulator) simulateStatusChanges(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			if len(s.chats) == 0 {
				s.mu.RUnlock()
				continue
			}
			chat := s.chats[rand.Intn(len(s.chats))]
			s.mu.RUnlock()

			if rand.Float64() >= s.config.StatusChangeRate {
				continue
			}

			actor := chat.Buyer
			if rand.Float64() < 0.5 {
				actor = chat.Seller
			}

			status := "archived"
			if chat.Archived {
				status = "active"
			}

			data := map[string]interface{}{
				"chatId": chat.ID.String(),
				"status": status,
			}

			if _, err := s.makeRequest(actor, "POST", "/chat/status", data); err != nil {
				log.Printf("Failed to set chat %s status to %s: %v", chat.ID, status, err)
				continue
			}

			s.mu.Lock()
			chat.Archived = !chat.Archived
			s.mu.Unlock()

			s.stats.mu.Lock()
			s.stats.StatusChanges++
			s.stats.mu.Unlock()

			log.Printf("Chat %s is now %s", chat.ID, status)
		}
	}
}
