package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"entryx/native/auction"
)

type auctionStartParams struct {
	Owner         string `json:"owner"`
	Issuer        string `json:"issuer"`
	Label         string `json:"label"`
	Asset         string `json:"asset"`
	PaymentAsset  string `json:"paymentAsset"`
	Quantity      uint64 `json:"quantity"`
	StartingPrice string `json:"startingPrice"`
	EventStart    int64  `json:"eventStart"`
	feeScheduleParams
}

type bidResult struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

type auctionResult struct {
	ID            string      `json:"id"`
	Label         string      `json:"label"`
	Owner         string      `json:"owner"`
	Issuer        string      `json:"issuer"`
	Asset         string      `json:"asset"`
	PaymentAsset  string      `json:"paymentAsset"`
	StartingPrice string      `json:"startingPrice"`
	HighestBid    string      `json:"highestBid,omitempty"`
	HighestBidder string      `json:"highestBidder,omitempty"`
	Quantity      uint64      `json:"quantity"`
	EndTime       int64       `json:"endTime"`
	EventStart    int64       `json:"eventStart"`
	CreatedAt     int64       `json:"createdAt"`
	Bids          []bidResult `json:"bids,omitempty"`
	Status        string      `json:"status"`
}

func formatAuctionJSON(a *auction.Auction) auctionResult {
	result := auctionResult{
		ID:            "0x" + hex.EncodeToString(a.ID[:]),
		Label:         a.Label,
		Owner:         "0x" + hex.EncodeToString(a.Owner[:]),
		Issuer:        "0x" + hex.EncodeToString(a.Issuer[:]),
		Asset:         a.AssetID,
		PaymentAsset:  a.PaymentAssetID,
		StartingPrice: a.StartingPrice.String(),
		Quantity:      a.Quantity,
		EndTime:       a.EndTime,
		EventStart:    a.EventStart,
		CreatedAt:     a.CreatedAt,
		Status:        a.Status.String(),
	}
	if bidder, ok := a.Bidder(); ok {
		result.HighestBid = a.HighestBid.String()
		result.HighestBidder = "0x" + hex.EncodeToString(bidder[:])
	}
	for _, bid := range a.Bids {
		result.Bids = append(result.Bids, bidResult{
			Bidder: "0x" + hex.EncodeToString(bid.Bidder[:]),
			Amount: bid.Amount.String(),
		})
	}
	return result
}

func (s *Server) handleAuctionStart(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params auctionStartParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	issuer, err := parseAddress(params.Issuer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	startingPrice, err := parseOptionalAmount(params.StartingPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	sched, err := params.schedule()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auc, err := s.proc.StartAuction(owner, issuer, params.Label, params.Asset, params.PaymentAsset, params.Quantity, startingPrice, params.EventStart, sched)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAuctionJSON(auc))
}

type placeBidParams struct {
	ID     string `json:"id"`
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

func (s *Server) handleAuctionPlaceBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params placeBidParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseAuctionID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auc, err := s.proc.PlaceBid(id, bidder, amount)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAuctionJSON(auc))
}

type auctionCallerParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

func (s *Server) handleAuctionClose(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAuctionFinalize(w, req, s.proc.CloseAuction)
}

func (s *Server) handleAuctionCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAuctionFinalize(w, req, s.proc.CancelAuction)
}

func (s *Server) handleAuctionFinalize(w http.ResponseWriter, req *RPCRequest, op func([32]byte, [20]byte) (*auction.Auction, error)) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params auctionCallerParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseAuctionID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auc, err := op(id, caller)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAuctionJSON(auc))
}

type auctionGetParams struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Label string `json:"label"`
}

// handleAuctionGet resolves an auction either by its hex identifier or by the
// (owner, label) pair it derives from.
func (s *Server) handleAuctionGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params auctionGetParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var id [32]byte
	switch {
	case params.ID != "":
		parsed, err := parseAuctionID(params.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		id = parsed
	case params.Owner != "" && params.Label != "":
		owner, err := parseAddress(params.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		id = auction.AuctionID(owner, params.Label)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "id or owner and label required")
		return
	}
	auc, err := s.proc.ViewAuction(id)
	if err != nil {
		writeSettlementError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAuctionJSON(auc))
}
