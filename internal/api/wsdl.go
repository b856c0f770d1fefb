package api

import (
	"net/http"
	"strings"

	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validate"
)

type wsdlRequest struct {
	WSDLURL    string            `json:"wsdl_url"`
	MethodName string            `json:"method_name"`
	Params     map[string]string `json:"params"`
	Auth       *storage.Auth     `json:"auth"`
}

func (h *Handler) readWSDLRequest(w http.ResponseWriter, r *http.Request, needMethod bool) (*wsdlRequest, bool) {
	var req wsdlRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if err := validate.ValidateEndpoint(req.WSDLURL); err != nil {
		writeError(w, http.StatusBadRequest, strings.Replace(err.Error(), "endpoint", "wsdl_url", 1))
		return nil, false
	}
	if needMethod && strings.TrimSpace(req.MethodName) == "" {
		writeError(w, http.StatusBadRequest, "method_name is required")
		return nil, false
	}
	if err := validate.ValidateAuth(req.Auth); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func (h *Handler) WSDLMethods(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readWSDLRequest(w, r, false)
	if !ok {
		return
	}
	doc, err := h.soap.Inspect(r.Context(), req.WSDLURL, req.Auth)
	if err != nil {
		h.logger.Warn("load wsdl", "url", req.WSDLURL, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"methods": doc.Methods()})
}

func (h *Handler) WSDLParams(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readWSDLRequest(w, r, true)
	if !ok {
		return
	}
	doc, err := h.soap.Inspect(r.Context(), req.WSDLURL, req.Auth)
	if err != nil {
		h.logger.Warn("load wsdl", "url", req.WSDLURL, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	params, err := doc.Params(req.MethodName)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"params": params})
}

func (h *Handler) WSDLExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readWSDLRequest(w, r, true)
	if !ok {
		return
	}
	result, err := h.soap.Invoke(r.Context(), req.WSDLURL, req.MethodName, req.Params, req.Auth)
	if err != nil {
		h.logger.Warn("execute soap method", "url", req.WSDLURL, "method", req.MethodName, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"result": result})
}
