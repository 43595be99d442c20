package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

// syncThreshold время меньше этого значения считается несинхронизированным (16 часов от эпохи)
const syncThreshold = 16 * 3600

// Clock источник времени для меток журнала.
// Пока время не синхронизировано, метки строятся от времени работы процесса.
type Clock struct {
	start  time.Time
	now    func() time.Time
	offset atomic.Int64
	synced atomic.Bool

	query func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
}

// NewClock создает часы поверх системного времени
func NewClock() *Clock {
	return newClock(time.Now)
}

func newClock(now func() time.Time) *Clock {
	return &Clock{
		start: now(),
		now:   now,
		query: ntp.QueryWithOptions,
	}
}

// Now текущее время с поправкой NTP
func (c *Clock) Now() time.Time {
	return c.now().Add(time.Duration(c.offset.Load()))
}

// Uptime время работы с момента создания часов
func (c *Clock) Uptime() time.Duration {
	return c.now().Sub(c.start)
}

// Synced сообщает, можно ли доверять календарному времени
func (c *Clock) Synced() bool {
	return c.Now().Unix() >= syncThreshold
}

// NTPSynced сообщает, была ли успешная синхронизация по NTP
func (c *Clock) NTPSynced() bool {
	return c.synced.Load()
}

// Sync опрашивает NTP серверы по порядку до первого валидного ответа
func (c *Clock) Sync(ctx context.Context, servers []string, timeout time.Duration) error {
	if len(servers) == 0 {
		return errors.New("no ntp servers configured")
	}

	var errs []error
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.query(server, ntp.QueryOptions{Timeout: timeout})
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}

		c.offset.Store(int64(resp.ClockOffset))
		c.synced.Store(true)
		return nil
	}

	return fmt.Errorf("ntp sync failed: %w", errors.Join(errs...))
}

// ISOTimestamp метка для документа коллектора
func (c *Clock) ISOTimestamp() string {
	if !c.Synced() {
		ms := c.Uptime().Milliseconds()
		seconds := ms / 1000
		return fmt.Sprintf("1970-01-01T00:%02d:%02d.%03dZ", (seconds/60)%60, seconds%60, ms%1000)
	}
	return c.Now().UTC().Format("2006-01-02T15:04:05") + ".000Z"
}

// ConsoleTimestamp метка для строки консоли
func (c *Clock) ConsoleTimestamp() string {
	if !c.Synced() {
		return fmt.Sprintf("%ds", int64(c.Uptime()/time.Second))
	}
	return c.Now().Local().Format("15:04:05")
}
