package wizard

import (
	"fmt"
	"time"
)

// StepPrompts are shown above each step.
var StepPrompts = map[Step]string{
	StepVerification: "Informe o número de WhatsApp do responsável para receber o código de verificação.",
	StepAccessDenied: "Não foi possível continuar o agendamento por esta agenda.",
	StepPatient:      "Selecione o paciente:",
	StepService:      "Selecione o serviço:",
	StepLocation:     "Selecione o local de atendimento:",
	StepCompany:      "Selecione a empresa de faturamento:",
	StepSlot:         "Selecione o horário:",
	StepConfirmation: "Confira os dados do agendamento e confirme.",
	StepSuccess:      "✅ Agendamento realizado com sucesso!",
}

// Notice codes.
const (
	CodeInvalidPhone      = "invalid_phone"
	CodeUnknownPhone      = "unknown_phone"
	CodeNoPatients        = "no_patients"
	CodeCodeSent          = "code_sent"
	CodeResendThrottled   = "resend_throttled"
	CodeInvalidCode       = "invalid_code"
	CodeExpiredCode       = "expired_code"
	CodeCodeBlocked       = "code_blocked"
	CodeIdentityFailed    = "identity_unavailable"
	CodeReferenceData     = "reference_data_unavailable"
	CodeScheduleClosed    = "schedule_unavailable"
	CodeSelectionRequired = "selection_required"
	CodeInvalidOption     = "invalid_option"
	CodeSlotUnavailable   = "slot_unavailable"
	CodeBookingFailed     = "booking_failed"
)

const (
	msgInvalidPhone    = "Número de telefone inválido. Informe DDD e número."
	msgUnknownPhone    = "Este número não está cadastrado como responsável. Entre em contato com a clínica."
	msgNoPatients      = "Nenhum paciente vinculado a este responsável. Entre em contato com a clínica."
	msgInvalidOption   = "Opção inválida. Escolha uma das opções listadas."
	msgIdentityFailed  = "Não foi possível verificar o telefone agora. Tente novamente em instantes."
	msgExpiredCode     = "O código expirou. Solicite um novo código."
	msgCodeBlocked     = "Número máximo de tentativas atingido. Informe o telefone novamente."
	msgReferenceData   = "Não foi possível carregar os dados. Tente recarregar."
	msgScheduleClosed  = "Esta agenda não está disponível para agendamento."
	msgSlotUnavailable = "O horário escolhido não está mais disponível. Escolha outro horário."
	msgBookingFailed   = "Não foi possível concluir o agendamento. Tente novamente."
)

var selectionRequired = map[Step]string{
	StepPatient:  "Selecione um paciente para continuar.",
	StepService:  "Selecione um serviço para continuar.",
	StepLocation: "Selecione um local para continuar.",
	StepCompany:  "Selecione uma empresa para continuar.",
	StepSlot:     "Selecione um horário para continuar.",
}

func msgCodeSent(expiresAt time.Time) string {
	return fmt.Sprintf("Código enviado pelo WhatsApp. Válido até %s.", expiresAt.Local().Format("15:04"))
}

func msgInvalidCode(remaining int) string {
	return fmt.Sprintf("Código incorreto. Tentativas restantes: %d.", remaining)
}
