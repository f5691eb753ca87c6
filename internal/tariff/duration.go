package tariff

import (
	"fmt"
	"time"
)

// FormatDuration renders an elapsed wall-clock duration as "2h30m45s".
// Components are not zero-padded and zero components are kept, so a
// five-second call formats as "0h0m5s".
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%dh%dm%ds", total/3600, (total%3600)/60, total%60)
}
