package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"tradepost/internal/middleware"
	"tradepost/internal/models"

	"github.com/google/uuid"
)

type SimConfig struct {
	NumUsers         int
	NumListings      int
	SimulationTime   time.Duration
	MessageFrequency float64 // messages per user per hour
	ReadFrequency    float64 // mark-read sweeps per user per hour
	StatusChangeRate float64 // chance per tick that a chat gets archived or reopened
	DisconnectRate   float64
	ReconnectRate    float64
	ZipfS            float64
	EngineURL        string
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	AverageLatency   time.Duration
	ActiveUsers      int
	TotalChats       int
	TotalMessages    int
	TotalReads       int
	StatusChanges    int
	RequestLatencies []time.Duration
}

// SimulatedUser is a locally generated identity. IDs and tokens are minted
// here rather than through a registration endpoint; the server only needs a
// valid JWT.
type SimulatedUser struct {
	ID          uuid.UUID
	Token       string
	IsConnected bool
	LastActive  time.Time
	Chats       []*SimChat
}

// SimChat tracks a chat session between two simulated users.
type SimChat struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	Buyer     *SimulatedUser
	Seller    *SimulatedUser
	Archived  bool
}

// Participants returns the two sides of the chat.
func (c *SimChat) Participants() [2]*SimulatedUser {
	return [2]*SimulatedUser{c.Buyer, c.Seller}
}

type EnhancedSimulator struct {
	config   SimConfig
	stats    *SimulationStats
	users    []*SimulatedUser
	listings []uuid.UUID
	chats    []*SimChat
	client   *http.Client
	mu       sync.RWMutex
}

func NewEnhancedSimulator(config SimConfig) *EnhancedSimulator {
	return &EnhancedSimulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *EnhancedSimulator) Run(ctx context.Context) error {
	log.Printf("Starting enhanced simulation...")

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.SimulateActivities(ctx); err != nil {
			log.Printf("Activities simulation error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *EnhancedSimulator) initialize(ctx context.Context) error {
	log.Printf("Starting initialization...")

	// Phase 1: Mint local identities and tokens
	log.Printf("Phase 1: Creating %d users...", s.config.NumUsers)
	if err := s.createInitialUsers(); err != nil {
		return fmt.Errorf("failed to create initial users: %v", err)
	}

	// Phase 2: Listings are plain IDs; each belongs to a random user
	log.Printf("Phase 2: Creating %d listings...", s.config.NumListings)
	s.listings = make([]uuid.UUID, s.config.NumListings)
	for i := range s.listings {
		s.listings[i] = uuid.New()
	}

	// Phase 3: Open chats over the listings with Zipf-skewed popularity
	log.Printf("Phase 3: Opening chat sessions...")
	if err := s.openInitialChats(ctx); err != nil {
		return fmt.Errorf("failed to open chats: %v", err)
	}

	log.Printf("Initialization completed successfully")
	return nil
}

func (s *EnhancedSimulator) createInitialUsers() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)
	for i := 0; i < s.config.NumUsers; i++ {
		id := uuid.New()
		token, err := middleware.GenerateToken(id)
		if err != nil {
			return fmt.Errorf("failed to mint token for user %d: %v", i, err)
		}
		s.users = append(s.users, &SimulatedUser{
			ID:          id,
			Token:       token,
			IsConnected: true,
			LastActive:  time.Now(),
			Chats:       make([]*SimChat, 0),
		})
	}

	log.Printf("Successfully created %d users", len(s.users))
	return nil
}

func (s *EnhancedSimulator) openInitialChats(ctx context.Context) error {
	// Listing popularity follows Zipf's law: a few hot listings attract
	// most of the chats.
	zipf := rand.NewZipf(rand.New(rand.NewSource(time.Now().UnixNano())),
		s.config.ZipfS, 1, uint64(len(s.listings)-1))

	// Listing index -> seller (owner)
	sellers := make([]*SimulatedUser, len(s.listings))
	for i := range s.listings {
		sellers[i] = s.users[rand.Intn(len(s.users))]
	}

	rateLimiter := time.NewTicker(50 * time.Millisecond)
	defer rateLimiter.Stop()

	for _, buyer := range s.users {
		// Each user opens one to three chats
		numChats := rand.Intn(3) + 1

		for i := 0; i < numChats; i++ {
			listingIdx := int(zipf.Uint64())
			seller := sellers[listingIdx]
			if seller.ID == buyer.ID {
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-rateLimiter.C:
			}

			chatID, err := s.startChat(buyer, s.listings[listingIdx], seller.ID)
			if err != nil {
				log.Printf("Failed to open chat for user %s: %v", buyer.ID, err)
				continue
			}

			s.mu.Lock()
			if existing := s.findChat(chatID); existing != nil {
				// Duplicate start returned the existing session
				s.mu.Unlock()
				continue
			}
			chat := &SimChat{
				ID:        chatID,
				ListingID: s.listings[listingIdx],
				Buyer:     buyer,
				Seller:    seller,
			}
			s.chats = append(s.chats, chat)
			buyer.Chats = append(buyer.Chats, chat)
			seller.Chats = append(seller.Chats, chat)
			s.stats.mu.Lock()
			s.stats.TotalChats++
			s.stats.mu.Unlock()
			s.mu.Unlock()
		}
	}

	log.Printf("Opened %d chat sessions", len(s.chats))
	return nil
}

// findChat must be called with s.mu held.
func (s *EnhancedSimulator) findChat(chatID uuid.UUID) *SimChat {
	for _, c := range s.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

func (s *EnhancedSimulator) startChat(user *SimulatedUser, listingID, peerID uuid.UUID) (uuid.UUID, error) {
	data := map[string]interface{}{
		"listingId": listingID.String(),
		"peerId":    peerID.String(),
	}

	resp, err := s.makeRequest(user, "POST", "/chat/start", data)
	if err != nil {
		return uuid.Nil, err
	}

	var result struct {
		Chat struct {
			ID string `json:"id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse start chat response: %v", err)
	}

	chatID, err := uuid.Parse(result.Chat.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid chat ID returned: %v", err)
	}

	return chatID, nil
}

// makeRequest issues an authenticated request as the given user.
func (s *EnhancedSimulator) makeRequest(user *SimulatedUser, method, endpoint string, data interface{}) ([]byte, error) {
	var body []byte
	var err error

	if data != nil {
		body, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, s.config.EngineURL+endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+user.Token)

	start := time.Now()
	resp, err := s.client.Do(req)
	s.recordRequestMetrics(start, err)

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (s *EnhancedSimulator) simulateConnectivity(ctx context.Context) {
	log.Printf("Starting connectivity simulation...")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, user := range s.users {
				if user.IsConnected {
					if rand.Float64() < s.config.DisconnectRate {
						user.IsConnected = false
						s.stats.mu.Lock()
						s.stats.ActiveUsers--
						s.stats.mu.Unlock()
					}
				} else {
					if rand.Float64() < s.config.ReconnectRate {
						user.IsConnected = true
						user.LastActive = time.Now()
						s.stats.mu.Lock()
						s.stats.ActiveUsers++
						s.stats.mu.Unlock()
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *EnhancedSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, latency)

	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *EnhancedSimulator) collectMetrics(ctx context.Context) {
	log.Printf("Starting metrics collection...")
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stats.mu.RLock()
			elapsed := time.Since(s.stats.StartTime)
			requestRate := float64(s.stats.TotalRequests) / elapsed.Seconds()
			successRate := 0.0
			if s.stats.TotalRequests > 0 {
				successRate = float64(s.stats.SuccessRequests) / float64(s.stats.TotalRequests) * 100
			}

			activeUsers := 0
			s.mu.RLock()
			for _, user := range s.users {
				if user.IsConnected {
					activeUsers++
				}
			}
			s.mu.RUnlock()

			s.stats.ActiveUsers = activeUsers

			log.Printf("\nSimulation Metrics (%.1f seconds elapsed):", elapsed.Seconds())
			log.Printf("- Request Rate: %.2f req/sec", requestRate)
			log.Printf("- Success Rate: %.1f%%", successRate)
			log.Printf("- Average Latency: %v", s.stats.AverageLatency)
			log.Printf("- Active Users: %d/%d", activeUsers, len(s.users))
			log.Printf("- Total Chats: %d", s.stats.TotalChats)
			log.Printf("- Total Messages: %d", s.stats.TotalMessages)
			log.Printf("- Mark-Read Sweeps: %d", s.stats.TotalReads)
			log.Printf("- Status Changes: %d", s.stats.StatusChanges)
			log.Printf("- Failed Requests: %d", s.stats.FailedRequests)

			s.stats.mu.RUnlock()
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ActiveUsers       int
	TotalChats        int
	TotalMessages     int
	TotalReads        int
	StatusChanges     int
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *EnhancedSimulator) GetMetrics() SimulationMetrics {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	elapsed := time.Since(s.stats.StartTime)
	requestRate := float64(s.stats.TotalRequests) / elapsed.Seconds()

	return SimulationMetrics{
		TotalUsers:        len(s.users),
		ActiveUsers:       s.stats.ActiveUsers,
		TotalChats:        s.stats.TotalChats,
		TotalMessages:     s.stats.TotalMessages,
		TotalReads:        s.stats.TotalReads,
		StatusChanges:     s.stats.StatusChanges,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests),
		RequestsPerSecond: requestRate,
	}
}

// randomContent produces a realistic mix of message payloads.
func randomContent(seq int) models.MessageContent {
	roll := rand.Float64()
	switch {
	case roll < 0.85:
		return models.MessageContent{
			Type: models.ContentTypeText,
			Text: fmt.Sprintf("Message %d sent at %s", seq, time.Now().Format(time.RFC3339)),
		}
	case roll < 0.95:
		return models.MessageContent{
			Type:     models.ContentTypeImage,
			ImageURL: fmt.Sprintf("https://cdn.example.com/sim/%d.jpg", seq),
		}
	default:
		return models.MessageContent{
			Type: models.ContentTypeLocation,
			Location: &models.GeoPoint{
				Lat: rand.Float64()*180 - 90,
				Lng: rand.Float64()*360 - 180,
			},
		}
	}
}
