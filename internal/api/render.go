package api

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"strings"
	"time"
)

// Response payloads carry both json and xml tags; the same struct renders in
// either format depending on negotiation.

type authorizationPayload struct {
	XMLName   xml.Name `json:"-" xml:"authorization"`
	Issuer    string   `json:"emisor" xml:"emisor"`
	Card      string   `json:"tarjeta" xml:"tarjeta"`
	Status    string   `json:"status" xml:"status"`
	AuthCode  string   `json:"numero" xml:"numero"`
	Reason    string   `json:"detalle_denegacion,omitempty" xml:"detalle_denegacion,omitempty"`
	CreatedAt string   `json:"creada_en" xml:"creada_en"`
}

// legacyAuthorizationPayload is the GET /autorizacion rendering. The legacy
// terminals parse the XML document by its Spanish root element, so the root
// differs from the POST endpoint's.
type legacyAuthorizationPayload struct {
	XMLName   xml.Name `json:"-" xml:"autorizacion"`
	Issuer    string   `json:"emisor" xml:"emisor"`
	Card      string   `json:"tarjeta" xml:"tarjeta"`
	Status    string   `json:"status" xml:"status"`
	AuthCode  string   `json:"numero" xml:"numero"`
	Reason    string   `json:"detalle_denegacion,omitempty" xml:"detalle_denegacion,omitempty"`
	CreatedAt string   `json:"creada_en" xml:"creada_en"`
}

type cardPayload struct {
	XMLName    xml.Name `json:"-" xml:"card"`
	Issuer     string   `json:"emisor" xml:"emisor"`
	PAN        string   `json:"numero" xml:"numero"`
	HolderName string   `json:"nombre_titular" xml:"nombre_titular"`
	Expiry     string   `json:"fecha_venc" xml:"fecha_venc"`
	Limit      string   `json:"monto_autorizado" xml:"monto_autorizado"`
	Available  string   `json:"monto_disponible" xml:"monto_disponible"`
	Status     string   `json:"estado" xml:"estado"`
	CreatedAt  string   `json:"creada_en,omitempty" xml:"creada_en,omitempty"`
	UpdatedAt  string   `json:"actualizada_en,omitempty" xml:"actualizada_en,omitempty"`
}

type paymentPayload struct {
	XMLName   xml.Name `json:"-" xml:"payment"`
	Issuer    string   `json:"emisor" xml:"emisor"`
	Card      string   `json:"tarjeta" xml:"tarjeta"`
	Amount    string   `json:"monto" xml:"monto"`
	Available string   `json:"disponible" xml:"disponible"`
	Reference string   `json:"referencia" xml:"referencia"`
	CreatedAt string   `json:"creada_en,omitempty" xml:"creada_en,omitempty"`
}

type transactionPayload struct {
	XMLName      xml.Name `json:"-" xml:"transaction"`
	ID           string   `json:"id" xml:"id"`
	CardPAN      string   `json:"tarjeta_numero" xml:"tarjeta_numero"`
	Kind         string   `json:"tipo" xml:"tipo"`
	Amount       string   `json:"monto" xml:"monto"`
	Merchant     string   `json:"comercio" xml:"comercio"`
	Status       string   `json:"status" xml:"status"`
	AuthCode     string   `json:"autorizacion_numero,omitempty" xml:"autorizacion_numero,omitempty"`
	DenialReason string   `json:"detalle_denegacion,omitempty" xml:"detalle_denegacion,omitempty"`
	CreatedAt    string   `json:"creada_en" xml:"creada_en"`
}

type metadataPayload struct {
	XMLName  xml.Name        `json:"-" xml:"metadata"`
	IssuerID string          `json:"emisor_id" xml:"emisor_id"`
	Issuer   string          `json:"emisor" xml:"emisor"`
	Host     string          `json:"host" xml:"host"`
	Formats  []string        `json:"formatos" xml:"formatos>formato"`
	Scripts  metadataScripts `json:"scripts" xml:"scripts"`
}

type metadataScripts struct {
	Authorization string `json:"autorizacion" xml:"autorizacion"`
}

type priorPayload struct {
	Card     string `json:"tarjeta" xml:"tarjeta"`
	Amount   string `json:"monto" xml:"monto"`
	Merchant string `json:"tienda" xml:"tienda"`
}

type fieldError struct {
	Field  string `json:"field" xml:"name"`
	Reason string `json:"reason" xml:"reason"`
}

type errorPayload struct {
	XMLName  xml.Name      `json:"-" xml:"error"`
	Code     string        `json:"code" xml:"code"`
	Reason   string        `json:"reason,omitempty" xml:"reason,omitempty"`
	Path     string        `json:"path,omitempty" xml:"path,omitempty"`
	Fields   []fieldError  `json:"fields,omitempty" xml:"fields>field,omitempty"`
	Previous *priorPayload `json:"previous,omitempty" xml:"previous,omitempty"`
}

const (
	formatJSON = "JSON"
	formatXML  = "XML"
)

// decideFormat picks the response encoding: an explicit formato/format query
// value wins, then the Accept header, then XML, matching the legacy clients
// this service fronts.
func decideFormat(r *http.Request) string {
	q := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("formato")))
	if q == "" {
		q = strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("format")))
	}
	switch q {
	case formatJSON, formatXML:
		return q
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	if strings.Contains(accept, "json") {
		return formatJSON
	}
	return formatXML
}

func respond(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if decideFormat(r) == formatXML {
		out, err := xml.MarshalIndent(payload, "", "  ")
		if err != nil {
			http.Error(w, "encoding failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		w.Write([]byte(xml.Header))
		w.Write(out)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError renders the negotiated error shape: a bare <error> document
// in XML, an {"error": {...}} envelope in JSON.
func respondError(w http.ResponseWriter, r *http.Request, status int, ep errorPayload) {
	if decideFormat(r) == formatXML {
		respond(w, r, status, ep)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorPayload{"error": ep})
}

func respondValidationError(w http.ResponseWriter, r *http.Request, fields []fieldError) {
	respondError(w, r, http.StatusUnprocessableEntity, errorPayload{
		Code:   "VALIDATION_ERROR",
		Fields: fields,
	})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
