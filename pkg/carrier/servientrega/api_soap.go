package servientrega

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/template"
	"time"
)

// SOAPAPIClient is the production implementation of APIClient using SOAP.
type SOAPAPIClient struct {
	wsdlURL    string
	httpClient *http.Client
}

// SOAPAPIClientConfig holds configuration for the SOAP client.
type SOAPAPIClientConfig struct {
	WSDLURL string
	Timeout time.Duration
}

// NewSOAPAPIClient creates a new SOAP-based API client for production use.
func NewSOAPAPIClient(cfg SOAPAPIClientConfig) *SOAPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SOAPAPIClient{
		wsdlURL: cfg.WSDLURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Login exchanges account credentials for a service token.
func (c *SOAPAPIClient) Login(ctx context.Context, user, password string) (*LoginResponse, error) {
	body, err := buildTemplate(loginTemplate, struct {
		User     string
		Password string
	}{User: user, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.doSOAPRequest(ctx, "", "GeneraToken", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseSOAPError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if env.Body.GeneraTokenResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No token in response"}
	}
	if env.Body.GeneraTokenResponse.Token == "" {
		return nil, &APIError{Code: "AUTH_FAILED", Description: "Empty token returned"}
	}

	return &LoginResponse{
		Token:        env.Body.GeneraTokenResponse.Token,
		LifetimeSecs: 3600,
	}, nil
}

// GetQuote fetches liquidation prices.
func (c *SOAPAPIClient) GetQuote(ctx context.Context, token string, req *QuoteRequest) (*QuoteResponse, error) {
	body, err := buildTemplate(quoteTemplate, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.doSOAPRequest(ctx, token, "Liquidar", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseSOAPError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if env.Body.LiquidarResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No liquidation in response"}
	}

	options := make([]QuoteOption, len(env.Body.LiquidarResponse.Productos.Producto))
	for i, p := range env.Body.LiquidarResponse.Productos.Producto {
		options[i] = QuoteOption{
			ProductCode:  p.Codigo,
			ProductName:  p.Nombre,
			Total:        parseFloat(p.ValorTotal),
			Currency:     "COP",
			DeliveryDays: p.DiasEntrega,
		}
	}
	return &QuoteResponse{Options: options}, nil
}

// CreateGuide generates a shipping guide.
func (c *SOAPAPIClient) CreateGuide(ctx context.Context, token string, req *GuideRequest) (*GuideResponse, error) {
	body, err := buildTemplate(guideTemplate, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.doSOAPRequest(ctx, token, "GenerarGuia", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseSOAPError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if env.Body.GenerarGuiaResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No guide in response"}
	}
	g := env.Body.GenerarGuiaResponse
	if g.NumeroGuia == "" {
		return nil, &APIError{Code: "GUIDE_FAILED", Description: g.Mensaje}
	}

	return &GuideResponse{
		GuideNumber: g.NumeroGuia,
		Total:       parseFloat(g.ValorTotal),
		Currency:    "COP",
		LabelData:   g.Rotulo,
	}, nil
}

// GetTracking retrieves guide movements.
func (c *SOAPAPIClient) GetTracking(ctx context.Context, token string, guideNumber string) (*TrackingResponse, error) {
	body, err := buildTemplate(trackingTemplate, struct{ GuideNumber string }{GuideNumber: guideNumber})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.doSOAPRequest(ctx, token, "ConsultarGuia", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseSOAPError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if env.Body.ConsultarGuiaResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No tracking in response"}
	}
	t := env.Body.ConsultarGuiaResponse

	movements := make([]Movement, len(t.Movimientos.Movimiento))
	for i, m := range t.Movimientos.Movimiento {
		movements[i] = Movement{
			State:       m.Estado,
			Description: m.Descripcion,
			City:        m.Ciudad,
			Date:        m.Fecha,
		}
	}
	return &TrackingResponse{
		GuideNumber: guideNumber,
		State:       t.Estado,
		Movements:   movements,
	}, nil
}

// CancelGuide annuls a generated guide.
func (c *SOAPAPIClient) CancelGuide(ctx context.Context, token string, guideNumber string) error {
	body, err := buildTemplate(cancelTemplate, struct{ GuideNumber string }{GuideNumber: guideNumber})
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.doSOAPRequest(ctx, token, "AnularGuia", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseSOAPError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return err
	}
	if env.Body.AnularGuiaResponse == nil {
		return &APIError{Code: "PARSE_ERROR", Description: "No cancel result in response"}
	}
	if !env.Body.AnularGuiaResponse.Anulada {
		return &APIError{Code: "CANCEL_REJECTED", Description: env.Body.AnularGuiaResponse.Mensaje}
	}
	return nil
}

// SchedulePickup books a collection at origin.
func (c *SOAPAPIClient) SchedulePickup(ctx context.Context, token string, req *PickupRequest) (*PickupResponse, error) {
	body, err := buildTemplate(pickupTemplate, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.doSOAPRequest(ctx, token, "SolicitarRecoleccion", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseSOAPError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if env.Body.SolicitarRecoleccionResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No pickup confirmation in response"}
	}
	return &PickupResponse{Confirmation: env.Body.SolicitarRecoleccionResponse.NumeroRecoleccion}, nil
}

// ============================================================================
// SOAP plumbing
// ============================================================================

func (c *SOAPAPIClient) doSOAPRequest(ctx context.Context, token, action string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.wsdlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("http://tempuri.org/%s", action))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

const envelopeTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tem="http://tempuri.org/">
  <soap:Body>
    {{.Body}}
  </soap:Body>
</soap:Envelope>`

const loginTemplate = `<tem:GeneraToken>
      <tem:login>{{.User}}</tem:login>
      <tem:password>{{.Password}}</tem:password>
    </tem:GeneraToken>`

const quoteTemplate = `<tem:Liquidar>
      <tem:CiudadOrigen>{{.OriginCity}}</tem:CiudadOrigen>
      <tem:PaisOrigen>{{.OriginCountry}}</tem:PaisOrigen>
      <tem:CiudadDestino>{{.DestCity}}</tem:CiudadDestino>
      <tem:PaisDestino>{{.DestCountry}}</tem:PaisDestino>
      <tem:NumeroPiezas>{{.Pieces}}</tem:NumeroPiezas>
      <tem:Peso>{{.WeightKG}}</tem:Peso>
      <tem:Alto>{{.HeightCM}}</tem:Alto>
      <tem:Largo>{{.LengthCM}}</tem:Largo>
      <tem:Ancho>{{.WidthCM}}</tem:Ancho>
      <tem:ValorDeclarado>{{.DeclaredValue}}</tem:ValorDeclarado>
    </tem:Liquidar>`

const guideTemplate = `<tem:GenerarGuia>
      <tem:Producto>{{.ProductCode}}</tem:Producto>
      <tem:CiudadOrigen>{{.Quote.OriginCity}}</tem:CiudadOrigen>
      <tem:CiudadDestino>{{.Quote.DestCity}}</tem:CiudadDestino>
      <tem:NumeroPiezas>{{.Quote.Pieces}}</tem:NumeroPiezas>
      <tem:Peso>{{.Quote.WeightKG}}</tem:Peso>
      <tem:ValorDeclarado>{{.Quote.DeclaredValue}}</tem:ValorDeclarado>
      <tem:NombreRemitente>{{.SenderName}}</tem:NombreRemitente>
      <tem:TelefonoRemitente>{{.SenderPhone}}</tem:TelefonoRemitente>
      <tem:DireccionRemitente>{{.SenderAddress}}</tem:DireccionRemitente>
      <tem:NombreDestinatario>{{.ReceiverName}}</tem:NombreDestinatario>
      <tem:TelefonoDestinatario>{{.ReceiverPhone}}</tem:TelefonoDestinatario>
      <tem:DireccionDestinatario>{{.ReceiverAddress}}</tem:DireccionDestinatario>
      <tem:Referencia>{{.Reference}}</tem:Referencia>
      <tem:Observaciones>{{.Observations}}</tem:Observaciones>
    </tem:GenerarGuia>`

const trackingTemplate = `<tem:ConsultarGuia>
      <tem:NumeroGuia>{{.GuideNumber}}</tem:NumeroGuia>
    </tem:ConsultarGuia>`

const cancelTemplate = `<tem:AnularGuia>
      <tem:NumeroGuia>{{.GuideNumber}}</tem:NumeroGuia>
    </tem:AnularGuia>`

const pickupTemplate = `<tem:SolicitarRecoleccion>
      <tem:Direccion>{{.Address}}</tem:Direccion>
      <tem:Ciudad>{{.City}}</tem:Ciudad>
      <tem:NombreContacto>{{.ContactName}}</tem:NombreContacto>
      <tem:TelefonoContacto>{{.ContactPhone}}</tem:TelefonoContacto>
      <tem:Fecha>{{.Date}}</tem:Fecha>
      <tem:Franja>{{.TimeWindow}}</tem:Franja>
      <tem:NumeroPiezas>{{.Pieces}}</tem:NumeroPiezas>
      <tem:Observaciones>{{.Observations}}</tem:Observaciones>
    </tem:SolicitarRecoleccion>`

func buildTemplate(bodyTemplate string, data interface{}) ([]byte, error) {
	bodyTmpl, err := template.New("body").Parse(bodyTemplate)
	if err != nil {
		return nil, err
	}

	var bodyBuf bytes.Buffer
	if err := bodyTmpl.Execute(&bodyBuf, data); err != nil {
		return nil, err
	}

	envTmpl, err := template.New("envelope").Parse(envelopeTemplate)
	if err != nil {
		return nil, err
	}

	var envBuf bytes.Buffer
	if err := envTmpl.Execute(&envBuf, struct{ Body string }{Body: bodyBuf.String()}); err != nil {
		return nil, err
	}

	return envBuf.Bytes(), nil
}

// ============================================================================
// SOAP Response Parsing
// ============================================================================

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault                        *soapFault              `xml:"Fault,omitempty"`
	GeneraTokenResponse          *generaTokenResponse    `xml:"GeneraTokenResponse,omitempty"`
	LiquidarResponse             *liquidarResponse       `xml:"LiquidarResponse,omitempty"`
	GenerarGuiaResponse          *generarGuiaResponse    `xml:"GenerarGuiaResponse,omitempty"`
	ConsultarGuiaResponse        *consultarGuiaResponse  `xml:"ConsultarGuiaResponse,omitempty"`
	AnularGuiaResponse           *anularGuiaResponse     `xml:"AnularGuiaResponse,omitempty"`
	SolicitarRecoleccionResponse *recoleccionResponse    `xml:"SolicitarRecoleccionResponse,omitempty"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type generaTokenResponse struct {
	Token string `xml:"GeneraTokenResult"`
}

type liquidarResponse struct {
	Productos productos `xml:"Productos"`
}

type productos struct {
	Producto []producto `xml:"Producto"`
}

type producto struct {
	Codigo      string `xml:"Codigo"`
	Nombre      string `xml:"Nombre"`
	ValorTotal  string `xml:"ValorTotal"`
	DiasEntrega int    `xml:"DiasEntrega"`
}

type generarGuiaResponse struct {
	NumeroGuia string `xml:"NumeroGuia"`
	ValorTotal string `xml:"ValorTotal"`
	Rotulo     string `xml:"Rotulo"` // base64 PDF
	Mensaje    string `xml:"Mensaje"`
}

type consultarGuiaResponse struct {
	Estado      string      `xml:"Estado"`
	Movimientos movimientos `xml:"Movimientos"`
}

type movimientos struct {
	Movimiento []movimiento `xml:"Movimiento"`
}

type movimiento struct {
	Estado      string `xml:"Estado"`
	Descripcion string `xml:"Descripcion"`
	Ciudad      string `xml:"Ciudad"`
	Fecha       string `xml:"Fecha"`
}

type anularGuiaResponse struct {
	Anulada bool   `xml:"Anulada"`
	Mensaje string `xml:"Mensaje"`
}

type recoleccionResponse struct {
	NumeroRecoleccion string `xml:"NumeroRecoleccion"`
}

func decodeEnvelope(body io.Reader) (*soapEnvelope, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var env soapEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, &APIError{Code: env.Body.Fault.Code, Description: env.Body.Fault.String}
	}
	return &env, nil
}

func (c *SOAPAPIClient) parseSOAPError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err == nil && env.Body.Fault != nil {
		return &APIError{Code: env.Body.Fault.Code, Description: env.Body.Fault.String}
	}

	return &APIError{
		Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Description: string(body),
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var _ APIClient = (*SOAPAPIClient)(nil)
