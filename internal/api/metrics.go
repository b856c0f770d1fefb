package api

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	var sb strings.Builder
	services := h.registry.List(r.Context())

	typeCounts := make(map[string]int)
	for _, svc := range services {
		typeCounts[svc.Type]++
	}
	types := make([]string, 0, len(typeCounts))
	for t := range typeCounts {
		types = append(types, t)
	}
	sort.Strings(types)

	sb.WriteString("# HELP probeboard_services_total Registered services by type.\n")
	sb.WriteString("# TYPE probeboard_services_total gauge\n")
	for _, t := range types {
		fmt.Fprintf(&sb, "probeboard_services_total{type=\"%s\"} %d\n", escapeProm(t), typeCounts[t])
	}

	sb.WriteString("\n# HELP probeboard_service_up Whether the last check passed (1) or failed (0). Unchecked services are omitted.\n")
	sb.WriteString("# TYPE probeboard_service_up gauge\n")
	for _, svc := range services {
		if svc.LastCheck == nil {
			continue
		}
		val := 0
		if svc.LastCheck.Success {
			val = 1
		}
		fmt.Fprintf(&sb, "probeboard_service_up{id=\"%s\",name=\"%s\",type=\"%s\"} %d\n",
			escapeProm(svc.ID), escapeProm(svc.Name), escapeProm(svc.Type), val)
	}

	sb.WriteString("\n# HELP probeboard_service_response_time_ms Response time of the last check in milliseconds.\n")
	sb.WriteString("# TYPE probeboard_service_response_time_ms gauge\n")
	for _, svc := range services {
		if svc.LastCheck == nil || svc.LastCheck.RawResponse == nil {
			continue
		}
		fmt.Fprintf(&sb, "probeboard_service_response_time_ms{id=\"%s\",name=\"%s\"} %d\n",
			escapeProm(svc.ID), escapeProm(svc.Name), svc.LastCheck.RawResponse.ResponseTimeMs)
	}

	passed, failed := h.registry.CheckCounts()
	sb.WriteString("\n# HELP probeboard_checks_total Completed health checks by result.\n")
	sb.WriteString("# TYPE probeboard_checks_total counter\n")
	fmt.Fprintf(&sb, "probeboard_checks_total{result=\"pass\"} %d\n", passed)
	fmt.Fprintf(&sb, "probeboard_checks_total{result=\"fail\"} %d\n", failed)

	if h.hub != nil {
		sb.WriteString("\n# HELP probeboard_stream_clients Connected live stream clients.\n")
		sb.WriteString("# TYPE probeboard_stream_clients gauge\n")
		fmt.Fprintf(&sb, "probeboard_stream_clients %d\n", h.hub.Clients())

		sb.WriteString("\n# HELP probeboard_stream_dropped_total Live stream clients dropped for falling behind.\n")
		sb.WriteString("# TYPE probeboard_stream_dropped_total counter\n")
		fmt.Fprintf(&sb, "probeboard_stream_dropped_total %d\n", h.hub.Dropped())
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	io.WriteString(w, sb.String())
}

func escapeProm(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
