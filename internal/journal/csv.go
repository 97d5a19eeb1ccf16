package journal

import (
	"encoding/csv"
	"os"
	"time"

	"tradegate/internal/domain"
)

// WriteEventsToCSV exports journal history for the reporting collaborator.
func WriteEventsToCSV(events []*domain.StructureEvent, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"event_id", "at", "structure_id", "underlying", "kind", "from", "to", "reason"})

	for _, ev := range events {
		writer.Write([]string{
			ev.ID,
			ev.At.Format(time.RFC3339),
			ev.StructureID,
			ev.Underlying,
			string(ev.Kind),
			string(ev.From),
			string(ev.To),
			ev.Reason,
		})
	}
	return writer.Error()
}
