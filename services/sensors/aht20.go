package sensors

import (
	"context"
	"errors"
	"sync"
	"time"

	"sensorlink-go/drivers/aht20"
)

// AHT20 channels.
const (
	AHT20Temperature = 0 // °C
	AHT20Humidity    = 1 // %RH
)

// measurer is the part of aht20.Device the source needs.
type measurer interface {
	Measure(ctx context.Context) (aht20.Sample, error)
}

// AHT20 serves temperature and humidity from one AHT20. Both channels are
// taken from a single measurement when read within MaxAge of each other.
type AHT20 struct {
	dev    measurer
	maxAge time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last aht20.Sample
	at   time.Time
	ok   bool
}

// NewAHT20 wraps a configured device. maxAge <= 0 selects 500 ms.
func NewAHT20(dev *aht20.Device, maxAge time.Duration) *AHT20 {
	return newAHT20(dev, maxAge, time.Now)
}

func newAHT20(dev measurer, maxAge time.Duration, now func() time.Time) *AHT20 {
	if maxAge <= 0 {
		maxAge = 500 * time.Millisecond
	}
	return &AHT20{dev: dev, maxAge: maxAge, now: now}
}

func (a *AHT20) Read(ctx context.Context, channel int) (float32, error) {
	if channel != AHT20Temperature && channel != AHT20Humidity {
		return 0, ErrNoChannel
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.ok || a.now().Sub(a.at) > a.maxAge {
		s, err := a.dev.Measure(ctx)
		if err != nil {
			a.ok = false
			if errors.Is(err, aht20.ErrNotReady) || errors.Is(err, aht20.ErrTimeout) {
				return 0, ErrNotReady
			}
			return 0, err
		}
		a.last, a.at, a.ok = s, a.now(), true
	}
	if channel == AHT20Temperature {
		return a.last.Celsius(), nil
	}
	return a.last.RelHumidity(), nil
}
