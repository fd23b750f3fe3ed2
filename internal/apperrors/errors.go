package apperrors

import "errors"

// Ошибки доменного уровня. Обработчики сопоставляют их с HTTP-кодами через errors.Is.
var (
	// ErrInvalidReport - некорректная заявка, отклонена на границе API без изменения состояния
	ErrInvalidReport = errors.New("invalid report")

	// ErrIncidentNotFound - инцидент с указанным ID не существует
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidTransition - недопустимый переход жизненного цикла
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrMissingProof - попытка закрыть инцидент без фотографии результата
	ErrMissingProof = errors.New("missing after-image proof")

	// ErrAlreadyResolved - повторное закрытие уже решенного инцидента
	ErrAlreadyResolved = errors.New("incident already resolved")

	// ErrConcurrencyConflict - версия записи изменилась между чтением и записью.
	// Обрабатывается повторной попыткой внутри сервиса, клиенту не возвращается.
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")

	// ErrNotificationDelivery - сбой доставки одного уведомления
	ErrNotificationDelivery = errors.New("notification delivery failed")
)
