package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"countdownbot/pkg/tgui"
)

// User-facing empty-state texts.
const (
	MsgNoMatch   = "Keine passende Akademie gefunden :'("
	MsgNoEvents  = "Es sind noch keine Akademien eingespeichert :'("
	MsgNoneDated = "Es sind noch keine Akademien mit Datum eingespeichert :'("

	listDateLayout = "02.01.2006"
)

// DaysUntil returns the number of whole days from now's calendar date to
// date's calendar date. Negative for past dates.
func DaysUntil(date, now time.Time) int {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(n).Hours() / 24)
}

// RenderList renders the alphabetical event list with italic descriptions.
// Returns "" when the catalog is empty.
func RenderList(events []Event) string {
	parts := make([]string, 0, 2*len(events))
	for _, a := range events {
		desc := tgui.I(a.Description).String()
		if a.Date != nil {
			parts = append(parts, fmt.Sprintf("%s -- %s", tgui.Esc(a.Name), a.Date.Format(listDateLayout)))
			parts = append(parts, "\t-- "+desc+"\n")
		} else {
			parts = append(parts, tgui.Esc(a.Name).String()+"\n\t-- "+desc+"\n")
		}
	}
	return strings.Join(parts, "\n")
}

// RenderCountdown renders countdown lines for all dated events, soonest
// first. Past events are skipped. With a non-empty nameFilter only the
// matching event is rendered; a filter that matches nothing, or an entirely
// dateless catalog, yields the corresponding empty-state message.
func RenderCountdown(events []Event, now time.Time, nameFilter string) string {
	dated := make([]Event, 0, len(events))
	for _, a := range events {
		if a.Date != nil {
			dated = append(dated, a)
		}
	}
	sortByDate(dated)

	if nameFilter != "" {
		filtered := dated[:0]
		for _, a := range dated {
			if a.Name == nameFilter {
				filtered = append(filtered, a)
			}
		}
		if len(filtered) == 0 {
			return MsgNoMatch
		}
		dated = filtered
	} else if len(dated) == 0 {
		return MsgNoneDated
	}

	lines := make([]string, 0, len(dated))
	for _, a := range dated {
		name := tgui.Esc(a.Name).String()
		desc := tgui.I(a.Description).String()
		switch days := DaysUntil(*a.Date, now); {
		case days == 1:
			switch article(a.Name) {
			case articleDie:
				lines = append(lines, fmt.Sprintf("Die %s beginnt morgen!\n\t-- %s\n", name, desc))
			case articleDas:
				lines = append(lines, fmt.Sprintf("Das %s beginnt morgen!\n\t-- %s\n", name, desc))
			default:
				lines = append(lines, fmt.Sprintf("%s beginnt morgen!\n\t-- %s\n", name, desc))
			}
		case days == 0:
			switch article(a.Name) {
			case articleDie:
				lines = append(lines, fmt.Sprintf("Die %s beginnt heute!\n\t-- %s\n", name, desc))
			case articleDas:
				lines = append(lines, fmt.Sprintf("Das %s beginnt heute!\n\t-- %s\n", name, desc))
			default:
				lines = append(lines, fmt.Sprintf("%s beginnt heute!\n\t-- %s\n", name, desc))
			}
		case days > 1:
			switch article(a.Name) {
			case articleDie:
				lines = append(lines, fmt.Sprintf("Es sind noch %d Tage bis zur %s\n\t-- %s\n", days, name, desc))
			case articleDas:
				lines = append(lines, fmt.Sprintf("Es sind noch %d Tage bis zum %s\n\t-- %s\n", days, name, desc))
			default:
				lines = append(lines, fmt.Sprintf("Es sind noch %d Tage bis zur Veranstaltung %s\n\t-- %s\n", days, name, desc))
			}
		}
	}
	return strings.Join(lines, "\n")
}

type grammaticalArticle int

const (
	articleNone grammaticalArticle = iota
	articleDie
	articleDas
)

// article guesses the German article from the event name suffix.
func article(name string) grammaticalArticle {
	switch {
	case strings.HasSuffix(name, "kademie") || strings.HasSuffix(name, "Aka"):
		return articleDie
	case strings.HasSuffix(name, "Seminar") || strings.HasSuffix(name, "Segeln"):
		return articleDas
	default:
		return articleNone
	}
}

func sortByDate(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(*events[j].Date)
	})
}
