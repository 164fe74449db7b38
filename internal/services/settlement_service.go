package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// SettlementService produces ISO 20022 payout instructions for the bank leg
// of a withdrawal. Sending is a logged hand-off; it does not gate the
// withdrawal (the credit-alert notification does).
type SettlementService struct{}

func NewSettlementService() *SettlementService {
	return &SettlementService{}
}

// CreatePayoutInstruction builds a pacs.008 credit transfer moving the
// withdrawn amount to the user's bank account.
func (s *SettlementService) CreatePayoutInstruction(wd *models.Withdrawal, accountName string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if wd == nil {
		return nil, fmt.Errorf("withdrawal is required")
	}

	msgID := uuid.New().String()
	now := time.Now()
	amount := float64(wd.Amount) / 100 // minor units to naira

	ref := common.Max35Text(wd.Reference)
	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("NGN"),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &ref,
					EndToEndId: ref,
					TxId:       &ref,
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode("NGN"),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: bicPtr("DIGIPAYG"),
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: namePtr("DigiPay G2C Treasury"),
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(wd.BankInfo.BankName),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: namePtr(accountName),
				},
			},
		},
	}

	return doc, nil
}

// SendToSettlement hands the instruction to the settlement system.
func (s *SettlementService) SendToSettlement(doc any) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: wire the RTGS endpoint once the settlement partner is live
	log.Printf("[SETTLEMENT] Sending payout instruction:\n%s", string(xmlData))
	return nil
}

func bicPtr(s string) *common.BICFIDec2014Identifier {
	v := common.BICFIDec2014Identifier(s)
	return &v
}

func namePtr(s string) *common.Max140Text {
	v := common.Max140Text(s)
	return &v
}
