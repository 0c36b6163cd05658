package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vpnadm/backend/audit"
)

type GeneratePayload struct {
	ClientName string `json:"clientName"`
}

func (app *VpnAdmin) recordCertOutcome(r *http.Request, event audit.Event, target, outcome, detail string) {
	app.audit.Record(audit.Entry{
		CorrelationID: correlationID(r),
		Event:         event,
		Actor:         requestUser(r),
		ClientIP:      clientIP(r),
		Target:        target,
		Outcome:       outcome,
		Detail:        detail,
	})
}

func (app *VpnAdmin) certificateList(w http.ResponseWriter, r *http.Request) {
	rows, err := app.certs.List()
	if err != nil {
		mapError(w, err)
		return
	}
	app.refreshCertMetrics()
	if err := returnJson(w, rows); err != nil {
		return
	}
}

func (app *VpnAdmin) certificateGenerate(w http.ResponseWriter, r *http.Request) {
	var payload GeneratePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		returnErrorMessage(w, http.StatusUnprocessableEntity, errors.New("cant parse JSON in body"))
		return
	}

	row, err := app.certs.Generate(r.Context(), payload.ClientName, requestUser(r), clientIP(r))
	if err != nil {
		app.recordCertOutcome(r, audit.CertIssueFailed, payload.ClientName, "failure", err.Error())
		mapError(w, err)
		return
	}
	app.recordCertOutcome(r, audit.CertIssued, row.Name, "success", "serial "+row.SerialNumber)
	returnJson(w, row)
}

func (app *VpnAdmin) certificateDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := app.certs.Download(name)
	if err != nil {
		mapError(w, err)
		return
	}
	app.recordCertOutcome(r, audit.CertDownloaded, name, "success", "")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+".ovpn\"")
	w.Write(data)
}

func (app *VpnAdmin) certificateRevoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	row, err := app.certs.Revoke(r.Context(), name, requestUser(r), clientIP(r))
	if err != nil {
		app.recordCertOutcome(r, audit.CertRevokeFailed, name, "failure", err.Error())
		mapError(w, err)
		return
	}
	app.recordCertOutcome(r, audit.CertRevoked, name, "success", "serial "+row.SerialNumber)
	returnJson(w, row)
}
