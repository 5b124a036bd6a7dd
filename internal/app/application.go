package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pglocator/pglocator/internal/app/realtime"
	"github.com/pglocator/pglocator/internal/app/services/accounts"
	"github.com/pglocator/pglocator/internal/app/services/bookings"
	"github.com/pglocator/pglocator/internal/app/services/demo"
	"github.com/pglocator/pglocator/internal/app/services/favorites"
	"github.com/pglocator/pglocator/internal/app/services/listings"
	"github.com/pglocator/pglocator/internal/app/services/notifications"
	"github.com/pglocator/pglocator/internal/app/services/reviews"
	"github.com/pglocator/pglocator/internal/app/services/rooms"
	"github.com/pglocator/pglocator/internal/app/services/stats"
	"github.com/pglocator/pglocator/internal/app/storage"
	"github.com/pglocator/pglocator/internal/app/storage/kvstore"
	"github.com/pglocator/pglocator/internal/app/storage/memory"
	"github.com/pglocator/pglocator/internal/app/system"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/kv"
	"github.com/pglocator/pglocator/internal/logging"
)

// Stores encapsulates persistence dependencies. Nil document stores default
// to one in-memory key-value store and nil room stores to the in-memory
// relational store.
type Stores struct {
	Profiles      storage.ProfileStore
	Listings      storage.ListingStore
	Bookings      storage.BookingStore
	Reviews       storage.ReviewStore
	Notifications storage.NotificationStore
	Favorites     storage.FavoriteStore
	Rooms         storage.RoomStore
	Amenities     storage.AmenityStore
}

// DocumentStores fills every document store from one key-value backend.
func DocumentStores(backend kv.Store) Stores {
	docs := kvstore.New(backend)
	return Stores{
		Profiles:      docs,
		Listings:      docs,
		Bookings:      docs,
		Reviews:       docs,
		Notifications: docs,
		Favorites:     docs,
	}
}

// Options tunes the services.
type Options struct {
	AdminInviteCode   string
	NotificationLimit int
	HubBuffer         int
	Fixtures          *demo.Fixtures
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger

	Identity      identity.Provider
	Hub           *realtime.Hub
	Accounts      *accounts.Service
	Listings      *listings.Service
	Favorites     *favorites.Service
	Bookings      *bookings.Service
	Reviews       *reviews.Service
	Notifications *notifications.Service
	Stats         *stats.Service
	Rooms         *rooms.Service
	Demo          *demo.Service
}

// New builds a fully initialised application with the provided stores.
func New(idp identity.Provider, stores Stores, opts Options, log *logging.Logger) (*Application, error) {
	if idp == nil {
		return nil, errors.New("identity provider is required")
	}
	if log == nil {
		log = logging.NewDefault("app")
	}

	if stores.Profiles == nil || stores.Listings == nil || stores.Bookings == nil ||
		stores.Reviews == nil || stores.Notifications == nil || stores.Favorites == nil {
		defaults := DocumentStores(kv.NewMemory())
		if stores.Profiles == nil {
			stores.Profiles = defaults.Profiles
		}
		if stores.Listings == nil {
			stores.Listings = defaults.Listings
		}
		if stores.Bookings == nil {
			stores.Bookings = defaults.Bookings
		}
		if stores.Reviews == nil {
			stores.Reviews = defaults.Reviews
		}
		if stores.Notifications == nil {
			stores.Notifications = defaults.Notifications
		}
		if stores.Favorites == nil {
			stores.Favorites = defaults.Favorites
		}
	}
	if stores.Rooms == nil || stores.Amenities == nil {
		mem := memory.New()
		if stores.Rooms == nil {
			stores.Rooms = mem
		}
		if stores.Amenities == nil {
			stores.Amenities = mem
		}
	}

	fixtures := opts.Fixtures
	if fixtures == nil {
		f, err := demo.DefaultFixtures()
		if err != nil {
			return nil, fmt.Errorf("load demo fixtures: %w", err)
		}
		fixtures = &f
	}

	hub := realtime.NewHub(opts.HubBuffer, log.Named("realtime"))
	acctService, err := accounts.New(idp, stores.Profiles, opts.AdminInviteCode, log.Named("accounts"))
	if err != nil {
		return nil, fmt.Errorf("configure accounts: %w", err)
	}
	notifyService := notifications.New(stores.Notifications, opts.NotificationLimit, log.Named("notifications"))
	roomService := rooms.New(stores.Rooms, stores.Amenities, stores.Listings, stores.Bookings, hub, log.Named("rooms"))
	listingService := listings.New(stores.Listings, roomService, notifyService, log.Named("listings"))
	bookingService := bookings.New(stores.Bookings, stores.Listings, stores.Profiles, roomService, notifyService, log.Named("bookings"))

	manager := system.NewManager()
	if err := manager.Register(hubService{hub: hub}); err != nil {
		return nil, fmt.Errorf("register realtime hub: %w", err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		Identity:      idp,
		Hub:           hub,
		Accounts:      acctService,
		Listings:      listingService,
		Favorites:     favorites.New(stores.Favorites, stores.Listings, log.Named("favorites")),
		Bookings:      bookingService,
		Reviews:       reviews.New(stores.Reviews, stores.Listings, stores.Profiles, log.Named("reviews")),
		Notifications: notifyService,
		Stats:         stats.New(stores.Listings, stores.Bookings, stores.Profiles, log.Named("stats")),
		Rooms:         roomService,
		Demo:          demo.New(idp, stores.Profiles, stores.Listings, stores.Amenities, *fixtures, log.Named("demo")),
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the lifecycle-managed services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// hubService closes live subscriptions on shutdown. It registers first so it
// stops last, after the HTTP server stops accepting upgrades.
type hubService struct {
	hub *realtime.Hub
}

func (h hubService) Name() string                { return "realtime-hub" }
func (h hubService) Start(context.Context) error { return nil }

func (h hubService) Stop(context.Context) error {
	h.hub.Close()
	return nil
}
