// Package signature implementa el puente de firma/verificación usado por el
// modelo de confianza.
//
// # Stream canónico
//
// Un Payload se firma sobre una serialización determinística (ver Encode):
//
//   - Las claves del objeto se ordenan ascendentemente.
//   - Cada clave y cada valor se codifican en UTF-16BE y se terminan con 4 bytes 0x00.
//   - Los objetos anidados se serializan recursivamente en lugar del valor.
//   - Los float se formatean con hasta 8 decimales (half-up); los enteros en decimal.
//   - Los slices se tratan como objetos indexados ("0", "1", ...): el store no tiene arrays.
//
// El padding de NULs evita colisiones entre {"a":{"b":1}} y {"a":"b1"}.
//
// # Firma
//
// Sign agrega lastModified, signerID y signingKeyID al payload y firma el
// stream resultante con ECDSA (DER, base64). Verify quita "sig", reconstruye el
// stream y verifica contra la clave pública PEM del firmante.
package signature
