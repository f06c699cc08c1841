package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"entryx/native/fees"
	"entryx/native/ticketing"
)

type feeScheduleParams struct {
	ServiceFee          string `json:"serviceFee"`
	CommissionBps       uint32 `json:"commissionBps"`
	MaxUnitsPerPurchase uint64 `json:"maxUnitsPerPurchase"`
	MaxUnitsPerAccount  uint64 `json:"maxUnitsPerAccount"`
}

func (p feeScheduleParams) schedule() (fees.Schedule, error) {
	serviceFee, err := parseOptionalAmount(p.ServiceFee)
	if err != nil {
		return fees.Schedule{}, err
	}
	return fees.Schedule{
		ServiceFee:          serviceFee,
		CommissionBps:       p.CommissionBps,
		MaxUnitsPerPurchase: p.MaxUnitsPerPurchase,
		MaxUnitsPerAccount:  p.MaxUnitsPerAccount,
	}, nil
}

type createListingParams struct {
	Issuer       string `json:"issuer"`
	Distributor  string `json:"distributor"`
	Asset        string `json:"asset"`
	PaymentAsset string `json:"paymentAsset"`
	UnitPrice    string `json:"unitPrice"`
	TotalUnits   uint64 `json:"totalUnits"`
	feeScheduleParams
}

type listingResult struct {
	Asset          string `json:"asset"`
	PaymentAsset   string `json:"paymentAsset"`
	Issuer         string `json:"issuer"`
	Distributor    string `json:"distributor"`
	UnitPrice      string `json:"unitPrice"`
	AvailableUnits uint64 `json:"availableUnits"`
	CreatedAt      int64  `json:"createdAt"`
}

func formatListingJSON(l *ticketing.Listing) listingResult {
	return listingResult{
		Asset:          l.AssetID,
		PaymentAsset:   l.PaymentAssetID,
		Issuer:         "0x" + hex.EncodeToString(l.Issuer[:]),
		Distributor:    "0x" + hex.EncodeToString(l.Distributor[:]),
		UnitPrice:      l.UnitPrice.String(),
		AvailableUnits: l.AvailableUnits,
		CreatedAt:      l.CreatedAt,
	}
}

func (s *Server) handleCreateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params createListingParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	issuer, err := parseAddress(params.Issuer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	distributor, err := parseAddress(params.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	unitPrice, err := parseAmount(params.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	sched, err := params.schedule()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.proc.CreateListing(issuer, distributor, params.Asset, params.PaymentAsset, unitPrice, params.TotalUnits, sched)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatListingJSON(listing))
}

type purchaseParams struct {
	Asset string `json:"asset"`
	Buyer string `json:"buyer"`
	Units uint64 `json:"units"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params purchaseParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.proc.Purchase(params.Asset, buyer, params.Units)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatListingJSON(listing))
}

type transferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params transferParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.proc.Transfer(from, to, params.Asset, amount); err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	balance, err := s.proc.Balance(from, params.Asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.From,
		Asset:   params.Asset,
		Balance: balance.String(),
	})
}

type clawbackParams struct {
	Caller string `json:"caller"`
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleClawback(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params clawbackParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.proc.Clawback(caller, from, params.Asset, amount); err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	balance, err := s.proc.Balance(from, params.Asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.From,
		Asset:   params.Asset,
		Balance: balance.String(),
	})
}

type assetParams struct {
	Asset string `json:"asset"`
}

func (s *Server) handleGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params assetParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.proc.ViewListing(params.Asset)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatListingJSON(listing))
}

type balanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type balanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params balanceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.proc.Balance(addr, params.Asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Asset:   params.Asset,
		Balance: balance.String(),
	})
}
