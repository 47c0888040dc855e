package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"labcore/pkg/codec"
	"labcore/pkg/domain"
)

type jsonExtract struct {
	ExportID    string         `json:"export_id,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Request     Request        `json:"request"`
	Events      []domain.Event `json:"events"`
}

var csvColumns = []string{"id", "timestamp", "event_type", "entity_id", "entity_type", "source_node", "data", "event_metadata"}

func render(format Format, req Request, events []domain.Event) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		doc, err := codec.EncodeDocument(jsonExtract{
			GeneratedAt: time.Now().UTC(),
			Request:     req,
			Events:      events,
		})
		if err != nil {
			return nil, "", fmt.Errorf("render json extract: %w", err)
		}
		return doc.Text(), "application/json", nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(csvColumns); err != nil {
			return nil, "", err
		}
		for _, event := range events {
			row, err := csvRow(event)
			if err != nil {
				return nil, "", err
			}
			if err := writer.Write(row); err != nil {
				return nil, "", err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %s", format)
	}
}

func csvRow(event domain.Event) ([]string, error) {
	data, err := codec.EncodeDocument(event.Data)
	if err != nil {
		return nil, fmt.Errorf("render event %d data: %w", event.ID, err)
	}
	metadata, err := codec.EncodeDocument(event.Metadata)
	if err != nil {
		return nil, fmt.Errorf("render event %d metadata: %w", event.ID, err)
	}
	return []string{
		strconv.FormatInt(event.ID, 10),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.EventType,
		event.EntityID,
		string(event.EntityType),
		event.SourceNode,
		string(data.Text()),
		string(metadata.Text()),
	}, nil
}
