package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// forbiddenStationChars are rejected in station ids.
const forbiddenStationChars = `;"'{}()`

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("stationid", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), forbiddenStationChars)
	})
	return v
}

// Service is what the HTTP layer needs from hydro.Service.
type Service interface {
	Providers() []hydro.ProviderDescriptor
	StoredStations(ctx context.Context, providerID string) (int, error)
	TTL() time.Duration
	SearchStations(ctx context.Context, providerID, region, text string) ([]hydro.Station, error)
	Regions(ctx context.Context, providerID string) ([]string, hydro.RegionSource, error)
	FetchAndNormalize(ctx context.Context, providerID, stationID string) (hydro.FetchResult, error)
	StationSummary(ctx context.Context, providerID, stationID string) (hydro.StationSummary, error)
	IsFresh(ctx context.Context, providerID, stationID string) (bool, error)
	CacheEntry(ctx context.Context, providerID, stationID string) (hydro.CacheAge, error)
	CacheSummary(ctx context.Context) ([]hydro.CacheAge, error)
	PurgeStale(ctx context.Context) (int, error)
}

// Observer records API latencies. *metrics.Metrics implements it.
type Observer interface {
	ObserveAPI(method, route string, status int, elapsed time.Duration)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service Service, observer Observer) {
	v1 := app.Group("/api/v1")
	if observer != nil {
		v1.Use(observe(observer))
	}

	v1.Get("/providers", func(c *fiber.Ctx) error {
		providers := service.Providers()
		stored := make(map[string]int, len(providers))
		for _, p := range providers {
			n, err := service.StoredStations(c.UserContext(), p.ID)
			if err != nil {
				return err
			}
			stored[p.ID] = n
		}
		return c.JSON(fiber.Map{"providers": providers, "storedStations": stored})
	})

	v1.Get("/providers/:provider/stations", func(c *fiber.Ctx) error {
		q := stationsQuery{Region: c.Query("region"), Text: c.Query("q")}
		if err := validate.Struct(q); err != nil {
			return err
		}

		stations, err := service.SearchStations(c.UserContext(), c.Params("provider"), q.Region, q.Text)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"provider": c.Params("provider"),
			"count":    len(stations),
			"stations": stations,
		})
	})

	v1.Get("/providers/:provider/regions", func(c *fiber.Ctx) error {
		regions, source, err := service.Regions(c.UserContext(), c.Params("provider"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"provider": c.Params("provider"),
			"source":   source,
			"regions":  regions,
		})
	})

	v1.Get("/providers/:provider/stations/:station/readings", func(c *fiber.Ctx) error {
		station, err := parseStation(c)
		if err != nil {
			return err
		}

		res, err := service.FetchAndNormalize(c.UserContext(), c.Params("provider"), station)
		if err != nil {
			return err
		}
		return c.JSON(res)
	})

	v1.Get("/providers/:provider/stations/:station/summary", func(c *fiber.Ctx) error {
		station, err := parseStation(c)
		if err != nil {
			return err
		}

		summary, err := service.StationSummary(c.UserContext(), c.Params("provider"), station)
		if err != nil {
			return err
		}
		return c.JSON(summary)
	})

	v1.Get("/cache", func(c *fiber.Ctx) error {
		entries, err := service.CacheSummary(c.UserContext())
		if err != nil {
			return err
		}
		out := make([]cacheView, 0, len(entries))
		for _, e := range entries {
			out = append(out, newCacheView(e))
		}
		return c.JSON(fiber.Map{
			"ttlSeconds": int64(service.TTL() / time.Second),
			"entries":    out,
		})
	})

	v1.Get("/cache/:provider/:station", func(c *fiber.Ctx) error {
		station, err := parseStation(c)
		if err != nil {
			return err
		}
		provider := c.Params("provider")

		fresh, err := service.IsFresh(c.UserContext(), provider, station)
		if err != nil {
			return err
		}
		entry, err := service.CacheEntry(c.UserContext(), provider, station)
		if errors.Is(err, hydro.ErrNotFound) {
			return c.JSON(fiber.Map{"provider": provider, "stationId": station, "fresh": fresh, "cached": false})
		}
		if err != nil {
			return err
		}

		view := newCacheView(entry)
		return c.JSON(fiber.Map{
			"provider":   provider,
			"stationId":  station,
			"fresh":      fresh,
			"cached":     true,
			"lastFetch":  view.LastFetch,
			"ageSeconds": view.AgeSeconds,
			"status":     view.Status,
		})
	})

	v1.Delete("/cache/stale", func(c *fiber.Ctx) error {
		n, err := service.PurgeStale(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"removed": n})
	})
}

// stationsQuery holds the optional filters of the station listing.
type stationsQuery struct {
	Region string `validate:"max=100"`
	Text   string `validate:"max=100"`
}

// stationParam identifies a station in a path.
type stationParam struct {
	Station string `validate:"required,max=128,stationid"`
}

func parseStation(c *fiber.Ctx) (string, error) {
	p := stationParam{Station: strings.TrimSpace(c.Params("station"))}
	if err := validate.Struct(p); err != nil {
		return "", err
	}
	return p.Station, nil
}

// cacheView is the wire shape of a cache entry.
type cacheView struct {
	ProviderID string    `json:"provider"`
	StationID  string    `json:"stationId"`
	LastFetch  time.Time `json:"lastFetch"`
	AgeSeconds int64     `json:"ageSeconds"`
	Status     string    `json:"status"`
}

func newCacheView(a hydro.CacheAge) cacheView {
	status := "STALE"
	if a.Fresh {
		status = "FRESH"
	}
	return cacheView{
		ProviderID: a.ProviderID,
		StationID:  a.StationID,
		LastFetch:  a.LastFetch,
		AgeSeconds: int64(a.Age / time.Second),
		Status:     status,
	}
}

func observe(o Observer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		o.ObserveAPI(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
