package handlers

import (
	"net/http"

	"ocobot/pkg/utils"
)

// PaperHandler управляет ценой paper биржи
//
// Endpoints:
// - POST /api/v1/paper/prices - задать mark price символа
//
// Регистрируется только при EXCHANGE=paper. Новая цена сразу исполняет
// сработавшие условные ордера; монитор OCO увидит исполнение в следующем
// цикле опроса.
type PaperHandler struct {
	prices PriceFeed
}

// NewPaperHandler создает PaperHandler
func NewPaperHandler(prices PriceFeed) *PaperHandler {
	return &PaperHandler{prices: prices}
}

// SetPriceRequest - новая цена символа
type SetPriceRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// SetPriceResponse - цена и исполненные ею ордера
type SetPriceResponse struct {
	Symbol string   `json:"symbol"`
	Price  float64  `json:"price"`
	Filled []string `json:"filled"`
}

// SetPrice задаёт mark price
//
// POST /api/v1/paper/prices
//
// HTTP коды:
// - 200 OK: цена принята, filled - id исполненных ордеров
// - 400 Bad Request: невалидный символ или цена
func (h *PaperHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err)
		return
	}

	symbol := utils.NormalizeSymbol(req.Symbol)
	if err := utils.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid symbol", err)
		return
	}
	if err := utils.ValidatePrice("price", req.Price); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid price", err)
		return
	}

	filled := h.prices.SetMarkPrice(symbol, req.Price)
	if filled == nil {
		filled = []string{}
	}
	respondJSON(w, http.StatusOK, SetPriceResponse{Symbol: symbol, Price: req.Price, Filled: filled})
}
